// Package httpapi exposes the protocol operation surface over REST.
// Identity is a plain string supplied by the caller; issuing and
// verifying identities belongs to the host, not this core.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/time/rate"

	"github.com/alexgmz/dueld/internal/application/duel"
	"github.com/alexgmz/dueld/internal/domain"
)

// Server wraps the echo instance and the application service.
type Server struct {
	echo          *echo.Echo
	svc           *duel.Service
	oracleLimiter *rate.Limiter
}

// NewServer builds the HTTP surface. Oracle position updates are
// rate-limited so a misbehaving feed cannot hammer the store.
func NewServer(svc *duel.Service, oracleRatePerSec float64, oracleBurst int) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:          e,
		svc:           svc,
		oracleLimiter: rate.NewLimiter(rate.Limit(oracleRatePerSec), oracleBurst),
	}

	api := e.Group("/api")

	api.POST("/protocol", s.initialize)
	api.GET("/protocol", s.getProtocol)

	api.POST("/accounts/fund", s.fund)
	api.GET("/accounts/:identity", s.balance)

	duels := api.Group("/duels")
	duels.POST("", s.createDuel)
	duels.GET("", s.listDuels)
	duels.GET("/:id", s.getDuel)
	duels.POST("/:id/accept", s.acceptDuel)
	duels.POST("/:id/deposit", s.depositStake)
	duels.POST("/:id/cancel", s.cancelDuel)
	duels.POST("/:id/positions", s.updatePositions)
	duels.POST("/:id/settle", s.settleDuel)

	return s
}

// Start blocks serving HTTP on the given port.
func (s *Server) Start(port int) error {
	if err := s.echo.Start(fmt.Sprintf(":%d", port)); err != nil {
		return fmt.Errorf("httpapi.Start: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("httpapi.Shutdown: %w", err)
	}
	return nil
}

// Echo exposes the underlying handler for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// --- handlers ---

type initializeRequest struct {
	Authority string `json:"authority"`
	Treasury  string `json:"treasury"`
	Oracle    string `json:"oracle"`
	FeeBps    uint16 `json:"fee_bps"`
}

func (s *Server) initialize(c echo.Context) error {
	var req initializeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	p, err := s.svc.Initialize(c.Request().Context(), req.Authority, req.Treasury, req.Oracle, req.FeeBps)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, protocolView(p))
}

func (s *Server) getProtocol(c echo.Context) error {
	p, err := s.svc.GetProtocol(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, protocolView(p))
}

type fundRequest struct {
	Identity string `json:"identity"`
	Amount   int64  `json:"amount"`
}

func (s *Server) fund(c echo.Context) error {
	var req fundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Identity == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "identity is required")
	}

	if err := s.svc.Fund(c.Request().Context(), req.Identity, req.Amount); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) balance(c echo.Context) error {
	identity := c.Param("identity")
	balance, err := s.svc.Balance(c.Request().Context(), identity)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"identity": identity, "balance": balance})
}

type createDuelRequest struct {
	Creator         string   `json:"creator"`
	StakeAmount     int64    `json:"stake_amount"`
	DurationSeconds int64    `json:"duration_seconds"`
	AllowedTokens   []string `json:"allowed_tokens"`
}

func (s *Server) createDuel(c echo.Context) error {
	var req createDuelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Creator == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "creator is required")
	}

	d, err := s.svc.CreateDuel(c.Request().Context(), req.Creator, req.StakeAmount,
		time.Duration(req.DurationSeconds)*time.Second, req.AllowedTokens)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, duelView(d))
}

func (s *Server) listDuels(c echo.Context) error {
	duels, err := s.svc.ListDuels(c.Request().Context())
	if err != nil {
		return httpError(err)
	}
	views := make([]duelJSON, 0, len(duels))
	for i := range duels {
		views = append(views, duelView(&duels[i]))
	}
	return c.JSON(http.StatusOK, views)
}

func (s *Server) getDuel(c echo.Context) error {
	d, err := s.svc.GetDuel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, duelView(d))
}

type acceptRequest struct {
	Opponent string `json:"opponent"`
}

func (s *Server) acceptDuel(c echo.Context) error {
	var req acceptRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Opponent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "opponent is required")
	}

	d, err := s.svc.AcceptDuel(c.Request().Context(), c.Param("id"), req.Opponent)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, duelView(d))
}

type depositRequest struct {
	Depositor string `json:"depositor"`
}

func (s *Server) depositStake(c echo.Context) error {
	var req depositRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Depositor == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "depositor is required")
	}

	d, err := s.svc.DepositStake(c.Request().Context(), c.Param("id"), req.Depositor)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, duelView(d))
}

type cancelRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) cancelDuel(c echo.Context) error {
	var req cancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := s.svc.CancelDuel(c.Request().Context(), c.Param("id"), req.Caller); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type positionsRequest struct {
	Caller        string `json:"caller"`
	CreatorValue  int64  `json:"creator_value"`
	OpponentValue int64  `json:"opponent_value"`
}

func (s *Server) updatePositions(c echo.Context) error {
	if !s.oracleLimiter.Allow() {
		return echo.NewHTTPError(http.StatusTooManyRequests, "oracle update rate exceeded")
	}

	var req positionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	err := s.svc.UpdatePositions(c.Request().Context(), c.Param("id"), req.Caller,
		req.CreatorValue, req.OpponentValue)
	if err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) settleDuel(c echo.Context) error {
	ev, err := s.svc.SettleDuel(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"duel_id":          ev.DuelID,
		"winner":           ev.Winner,
		"creator_pnl_bps":  ev.CreatorPnLBps,
		"opponent_pnl_bps": ev.OpponentPnLBps,
		"winner_payout":    ev.WinnerPayout,
		"protocol_fee":     ev.ProtocolFee,
	})
}

// --- views and error mapping ---

type protocolJSON struct {
	Authority   string `json:"authority"`
	Treasury    string `json:"treasury"`
	Oracle      string `json:"oracle"`
	FeeBps      uint16 `json:"fee_bps"`
	TotalDuels  int64  `json:"total_duels"`
	TotalVolume int64  `json:"total_volume"`
}

func protocolView(p *domain.Protocol) protocolJSON {
	return protocolJSON{
		Authority:   p.Authority,
		Treasury:    p.Treasury,
		Oracle:      p.Oracle,
		FeeBps:      p.FeeBps,
		TotalDuels:  p.TotalDuels,
		TotalVolume: p.TotalVolume,
	}
}

type duelJSON struct {
	ID                 string   `json:"id"`
	Creator            string   `json:"creator"`
	Opponent           string   `json:"opponent,omitempty"`
	StakeAmount        int64    `json:"stake_amount"`
	CreatedAt          string   `json:"created_at"`
	StartTime          string   `json:"start_time,omitempty"`
	EndTime            string   `json:"end_time,omitempty"`
	DurationSeconds    int64    `json:"duration_seconds"`
	Status             string   `json:"status"`
	Winner             string   `json:"winner"`
	CreatorDeposited   bool     `json:"creator_deposited"`
	OpponentDeposited  bool     `json:"opponent_deposited"`
	AllowedTokens      []string `json:"allowed_tokens,omitempty"`
	CreatorStartValue  int64    `json:"creator_start_value"`
	OpponentStartValue int64    `json:"opponent_start_value"`
	CreatorFinalValue  int64    `json:"creator_final_value"`
	OpponentFinalValue int64    `json:"opponent_final_value"`
}

func duelView(d *domain.Duel) duelJSON {
	return duelJSON{
		ID:                 d.ID,
		Creator:            d.Creator,
		Opponent:           d.Opponent,
		StakeAmount:        d.StakeAmount,
		CreatedAt:          formatTime(d.CreatedAt),
		StartTime:          formatTime(d.StartTime),
		EndTime:            formatTime(d.EndTime),
		DurationSeconds:    int64(d.Duration / time.Second),
		Status:             string(d.Status),
		Winner:             string(d.Winner),
		CreatorDeposited:   d.CreatorDeposited,
		OpponentDeposited:  d.OpponentDeposited,
		AllowedTokens:      d.AllowedTokens,
		CreatorStartValue:  d.CreatorStartValue,
		OpponentStartValue: d.OpponentStartValue,
		CreatorFinalValue:  d.CreatorFinalValue,
		OpponentFinalValue: d.OpponentFinalValue,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// httpError maps domain rejection kinds to status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, domain.ErrDuelNotFound),
		errors.Is(err, domain.ErrNotInitialized):
		return echo.NewHTTPError(http.StatusNotFound, rootMessage(err))

	case errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrNotParticipant):
		return echo.NewHTTPError(http.StatusForbidden, rootMessage(err))

	case errors.Is(err, domain.ErrInvalidStake),
		errors.Is(err, domain.ErrInvalidDuration),
		errors.Is(err, domain.ErrFeeOutOfRange),
		errors.Is(err, domain.ErrOverflow):
		return echo.NewHTTPError(http.StatusBadRequest, rootMessage(err))

	case errors.Is(err, domain.ErrAlreadyInitialized),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, domain.ErrAlreadyAccepted),
		errors.Is(err, domain.ErrSelfAccept),
		errors.Is(err, domain.ErrAlreadyDeposited),
		errors.Is(err, domain.ErrCannotCancel),
		errors.Is(err, domain.ErrExpired),
		errors.Is(err, domain.ErrNotYetExpired),
		errors.Is(err, domain.ErrInsufficientFunds):
		return echo.NewHTTPError(http.StatusConflict, rootMessage(err))

	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// rootMessage strips the wrapping prefixes so clients get the kind, not
// the call path.
func rootMessage(err error) string {
	for {
		unwrapped := errors.Unwrap(err)
		if unwrapped == nil {
			return err.Error()
		}
		err = unwrapped
	}
}
