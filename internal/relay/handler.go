package relay

import (
	"net/http"
	"time"

	"relaybox/internal/constants"
	"relaybox/internal/httputil"
	"relaybox/internal/models"
	"relaybox/internal/service"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
)

// Handler upgrades GET /v1/live requests and runs a session per connection
type Handler struct {
	relay          *service.Relay
	authorizer     service.Authorizer
	opts           Options
	readLimit      int64
	allowedOrigins []string
	logger         *logrus.Logger
}

// NewHandler creates the live endpoint. allowedOrigins are host patterns for
// cross-origin browsers; same-origin and non-browser clients are always accepted.
func NewHandler(relay *service.Relay, authorizer service.Authorizer, cfg models.RelayConfig, allowedOrigins []string, logger *logrus.Logger) *Handler {
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = constants.DefaultMaxBodyBytes
	}
	return &Handler{
		relay:          relay,
		authorizer:     authorizer,
		opts:           OptionsFromConfig(cfg),
		readLimit:      int64(maxBody + constants.FrameOverheadBytes),
		allowedOrigins: allowedOrigins,
		logger:         logger,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = httputil.BearerToken(r)
	}

	// Server read/write timeouts would otherwise cut long-lived sessions
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error
		h.logger.WithFields(logrus.Fields{
			service.LogFieldRemoteIP: httputil.GetClientIP(r),
		}).WithError(err).Debug("WebSocket upgrade rejected")
		return
	}

	session := NewSession(NewWebSocketConn(c, h.readLimit), h.relay, h.authorizer, token, h.opts, h.logger)
	session.Run(r.Context())
}
