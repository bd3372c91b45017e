// =============================================================================
// 文件: internal/crl/crl.go
// 描述: CRL 分发端点 - 在独立端口回应固定的吊销列表字节
// =============================================================================
package crl

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mrcgq/310/internal/logging"
)

// Responder 静态 CRL 响应器
type Responder struct {
	port int
	crl  []byte

	httpServer *http.Server
	log        *logging.Logger
}

// NewResponder 创建响应器，crl 为预先签发的 DER 字节
func NewResponder(port int, crl []byte) *Responder {
	return &Responder{
		port: port,
		crl:  crl,
		log:  logging.New("CRL"),
	}
}

// Start 启动 HTTP 服务
func (r *Responder) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/pkix-crl")
		w.Write(r.crl)
	})

	r.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", r.port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	r.log.Infof("CRL 端点监听 :%d", r.port)
	go func() {
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Errorf("服务器错误: %v", err)
		}
	}()
}

// Stop 停止服务
func (r *Responder) Stop() {
	if r.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.httpServer.Shutdown(ctx)
	}
}
