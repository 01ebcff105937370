package merge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/authman/internal/repository"
)

// NoopReassigner は何もしない所有権付け替えフックを返す。
// 外部の業務データを持たないデプロイで使用する。
func NoopReassigner() repository.ReassignFunc {
	return func(ctx context.Context, oldUserIDs []string, newUserID string) error {
		return nil
	}
}

// reassignPayload はWebhookに送信されるリクエストボディ。
type reassignPayload struct {
	OldUserIDs []string `json:"old_user_ids"`
	NewUserID  string   `json:"new_user_id"`
}

// NewWebhookReassigner は外部サービスに所有権付け替えを委譲するフックを返す。
// マージトランザクション内で同期的に呼び出されるため、受信側は
// リトライに対して冪等でなければならない。2xx以外のレスポンスは失敗として扱われ、
// マージ全体がロールバックされる。
func NewWebhookReassigner(httpClient *http.Client, webhookURL string, logger *slog.Logger) repository.ReassignFunc {
	return func(ctx context.Context, oldUserIDs []string, newUserID string) error {
		body, err := json.Marshal(reassignPayload{
			OldUserIDs: oldUserIDs,
			NewUserID:  newUserID,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal reassign payload: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to create reassign request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := httpClient.Do(req)
		if err != nil {
			logger.Error("reassign webhook request failed",
				slog.String("url", webhookURL),
				slog.String("error", err.Error()),
			)
			return fmt.Errorf("reassign webhook request failed: %w", err)
		}
		defer resp.Body.Close()

		// レスポンスボディは読み捨てる（コネクション再利用のため）
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf("reassign webhook returned status %d", resp.StatusCode)
		}

		return nil
	}
}
