// Пакет export — HTTP-клиент внешнего архива.
// Поддерживает TLS с кастомным CA (DF_EXPORT_CA_CERT_PATH).
// Операция: Export (POST /api/v1/archive) — передача утверждённого
// документа с распознанным текстом во внешнее хранилище.
package export

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/bigkaa/docflow/internal/domain/model"
)

// archiveRequest — тело запроса POST /api/v1/archive.
type archiveRequest struct {
	DocumentID     string  `json:"document_id"`
	ProjectID      string  `json:"project_id"`
	Classification string  `json:"classification"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence"`
	ReviewedBy     string  `json:"reviewed_by"`
	ReviewNotes    string  `json:"review_notes,omitempty"`
}

// archiveResponse — ответ внешнего архива.
type archiveResponse struct {
	ArchiveRef string `json:"archive_ref"`
}

// Client — HTTP-клиент внешнего архива.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент архива.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата архива: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат архива добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "export_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// Export передаёт документ во внешний архив.
// POST /api/v1/archive — возвращает ссылку архива на принятый документ.
func (c *Client) Export(ctx context.Context, doc *model.Document) (string, error) {
	payload := archiveRequest{
		DocumentID:     doc.ID,
		ProjectID:      doc.ProjectID,
		Classification: string(doc.Classification),
		Text:           doc.OCRText,
		Confidence:     doc.OCRConfidence,
		ReviewedBy:     doc.ReviewedBy,
		ReviewNotes:    doc.ReviewNotes,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("сериализация запроса архива: %w", err)
	}

	reqURL := c.baseURL + "/api/v1/archive"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("создание запроса архива: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("запрос к архиву %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("архив вернул статус %d: %s", resp.StatusCode, string(respBody))
	}

	var archived archiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&archived); err != nil {
		return "", fmt.Errorf("декодирование ответа архива: %w", err)
	}
	if archived.ArchiveRef == "" {
		return "", fmt.Errorf("архив вернул пустую ссылку для документа %s", doc.ID)
	}

	c.logger.Info("Документ передан в архив",
		slog.String("document_id", doc.ID),
		slog.String("archive_ref", archived.ArchiveRef),
	)
	return archived.ArchiveRef, nil
}
