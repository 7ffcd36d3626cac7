// 通知サービスのエントリポイント。
// ドメイン処理からの通知依頼を保存し、接続中のクライアントへWebSocketで配信する。
package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/nao1215/campushub/internal/config"
	"github.com/nao1215/campushub/internal/notification"
)

// shutdownTimeout は終了シグナル受信後に処理中のリクエストを待つ時間。
const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := notification.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("通知サーバーの初期化に失敗: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("通知サービスを起動します: :%s", cfg.Port)
		errCh <- server.Run()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("通知サービスの起動に失敗: %v", err)
		}
	case <-ctx.Done():
		log.Printf("終了シグナルを受信しました。停止処理を開始します")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("通知サービスの停止中にエラーが発生: %v", err)
	}
	log.Printf("通知サービスを停止しました")
}
