// Package attachment は日記エントリに添付する音声ファイルのURLを検証する。
package attachment

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/eplan/internal/model"
	"github.com/hitoshi/eplan/internal/security"
)

// DefaultTimeout はHEADリクエストのタイムアウト。
const DefaultTimeout = 5 * time.Second

// Verifier は添付URLが公開された音声ファイルを指しているかを確認する。
type Verifier struct {
	guard  security.URLGuard
	client *http.Client
	logger *slog.Logger
}

// NewVerifier はVerifierを生成する。HTTPクライアントはguardのNewSafeClientで作る。
func NewVerifier(guard security.URLGuard, timeout time.Duration, logger *slog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{
		guard:  guard,
		client: guard.NewSafeClient(timeout),
		logger: logger,
	}
}

// Verify はURLを静的に検証したあとHEADリクエストを送り、
// 2xxの応答と音声のContent-Typeを確認する。失敗時はINVALID_ATTACHMENTを返す。
func (v *Verifier) Verify(ctx context.Context, rawURL string) error {
	if err := v.guard.ValidateURL(rawURL); err != nil {
		return model.NewInvalidAttachmentError("the URL is not allowed")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return model.NewInvalidAttachmentError("the URL is malformed")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		v.logger.Warn("attachment probe failed",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return model.NewInvalidAttachmentError("the file could not be reached")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.NewInvalidAttachmentError(fmt.Sprintf("the server responded with %d", resp.StatusCode))
	}
	if !IsAudioType(resp.Header.Get("Content-Type")) {
		return model.NewInvalidAttachmentError("the file is not an audio file")
	}
	return nil
}

// IsAudioType はContent-Typeが音声として扱える形式かどうかを返す。
func IsAudioType(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "audio/"):
		return true
	case mediaType == "video/webm", mediaType == "application/ogg":
		return true
	}
	return false
}
