package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// ChangeChannel はdocumentsテーブルのトリガーがpg_notifyするチャネル名。
// ペイロードは変更されたコレクション名。
const ChangeChannel = "docstore_changes"

const listenerPingInterval = 90 * time.Second

// RunChangeListener はPostgreSQLのLISTEN/NOTIFYで他プロセスの変更を受け取り、
// storeの購読へ再検索を促す。ctxがキャンセルされるまでブロックする。
// 再接続時は通知を取りこぼした可能性があるため、すべての購読を再検索させる。
func RunChangeListener(ctx context.Context, databaseURL string, store *SQLStore, logger *slog.Logger) error {
	listener := pq.NewListener(databaseURL, 2*time.Second, time.Minute,
		func(ev pq.ListenerEventType, err error) {
			switch ev {
			case pq.ListenerEventDisconnected:
				logger.Warn("change listener disconnected", slog.Any("error", err))
			case pq.ListenerEventReconnected:
				logger.Info("change listener reconnected")
			case pq.ListenerEventConnectionAttemptFailed:
				logger.Warn("change listener reconnect failed", slog.Any("error", err))
			}
		})
	defer listener.Close()

	if err := listener.Listen(ChangeChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ChangeChannel, err)
	}
	logger.Info("change listener started", slog.String("channel", ChangeChannel))

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("change listener stopped")
			return nil
		case n := <-listener.Notify:
			if n == nil {
				store.NotifyAll()
				continue
			}
			store.Notify(n.Extra)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					logger.Warn("change listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
	}
}
