// Package server — HTTP-сервер гаранта: проверка живости, метрики Prometheus
// и вебхук Crypto Pay об оплате счетов.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/garant-bot/internal/common"
	"serotonyl.ru/garant-bot/internal/ledger"
	"serotonyl.ru/garant-bot/internal/payments"
)

// maxWebhookBody — предел тела вебхука.
const maxWebhookBody = 1 << 20

// PaymentConfirmer подтверждает оплату счёта (deals.Service).
type PaymentConfirmer interface {
	ConfirmInvoicePaid(ctx context.Context, invoiceID string) (*ledger.Deal, error)
}

// Server — HTTP API гаранта.
type Server struct {
	gatherer prometheus.Gatherer
	payments PaymentConfirmer
	token    string
	webhook  bool
}

// New создаёт сервер. Если webhookEnabled, token — токен Crypto Pay для проверки подписи.
func New(gatherer prometheus.Gatherer, confirmer PaymentConfirmer, token string, webhookEnabled bool) *Server {
	return &Server{gatherer: gatherer, payments: confirmer, token: token, webhook: webhookEnabled}
}

// Handler возвращает chi-роутер со всеми маршрутами.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.webhook {
		r.Post("/cryptopay/webhook", s.handleWebhook)
	}
	return r
}

// Run слушает addr до отмены ctx.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("HTTP-сервер запущен")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleWebhook принимает invoice_paid. Crypto Pay повторяет доставку при ответе не 200,
// поэтому 500 отдаётся только на ошибки, которые повтор может исправить.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	upd, err := payments.ParseWebhook(s.token, body, r.Header.Get(payments.SignatureHeader))
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, payments.ErrBadSignature) {
			status = http.StatusUnauthorized
		}
		log.WithError(err).Warn("Отклонён вебхук Crypto Pay")
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	logger := log.WithFields(log.Fields{"update_id": upd.UpdateID, "update_type": upd.UpdateType})
	if upd.UpdateType != payments.UpdateInvoicePaid {
		logger.Debug("Вебхук пропущен")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	inv := upd.Invoice()
	logger = logger.WithField("invoice_id", inv.ID)

	_, err = s.payments.ConfirmInvoicePaid(r.Context(), inv.ID)
	switch {
	case err == nil:
		logger.Info("Оплата подтверждена вебхуком")
	case errors.Is(err, common.ErrAlreadyInState):
		logger.Debug("Повторный вебхук")
	case common.IsKind(err, common.KindValidation), common.IsKind(err, common.KindGuard):
		// Чужой счёт или сделка не ждёт оплаты: повтор ничего не изменит.
		logger.WithError(err).Warn("Вебхук не применён")
	default:
		logger.WithError(err).Error("Ошибка обработки вебхука")
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Debug("Ошибка записи ответа")
	}
}
