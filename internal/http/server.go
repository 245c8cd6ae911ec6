package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"moff.io/wallet-bridge/internal/bridge"
	"moff.io/wallet-bridge/internal/relay"
	"moff.io/wallet-bridge/pkg/errors"
	"moff.io/wallet-bridge/pkg/log"
	"moff.io/wallet-bridge/pkg/log/middleware"
)

// Server is the local control surface: everything an operator (or a thin UI)
// needs to drive pairing, proposals, requests and chain switches.
type Server struct {
	listen string
	bridge *bridge.Bridge
}

func NewServer(listen string, b *bridge.Bridge) *Server {
	if listen == "" {
		listen = ":8080"
	}
	return &Server{listen: listen, bridge: b}
}

func (s *Server) Start(ctx context.Context) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(middleware.RecoveredHTTPLog(), middleware.TimeoutHTTP())

	router.POST("/pair", s.pair)
	router.GET("/account", s.account)
	router.GET("/sessions", s.sessions)
	router.DELETE("/sessions/:topic", s.disconnect)
	router.GET("/proposal", s.proposal)
	router.POST("/proposal/approve", s.approveProposal)
	router.POST("/proposal/reject", s.rejectProposal)
	router.GET("/request", s.request)
	router.POST("/request/approve", s.approveRequest)
	router.POST("/request/reject", s.rejectRequest)
	router.POST("/request/close", s.closeRequest)
	router.GET("/chains", s.chains)
	router.POST("/chain/switch", s.switchChain)

	go func() {
		if err := router.Run(s.listen); err != nil {
			log.Fatal(errors.Wrap(err, "control surface listen"))
		}
	}()
	log.Infof("control surface listening on %v", s.listen)
}

type pairRequest struct {
	URI string `json:"uri" binding:"required"`
}

func (s *Server) pair(ctx *gin.Context) {
	var in pairRequest
	if err := ctx.ShouldBindJSON(&in); err != nil {
		fail(ctx, http.StatusBadRequest, err)
		return
	}
	if err := s.bridge.Pair(ctx.Request.Context(), in.URI); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, relay.ErrInvalidURI) {
			code = http.StatusBadRequest
		}
		fail(ctx, code, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) account(ctx *gin.Context) {
	ok(ctx, gin.H{
		"account": s.bridge.Account(),
		"chainId": s.bridge.ActiveChainID(),
	})
}

func (s *Server) sessions(ctx *gin.Context) {
	ok(ctx, s.bridge.Sessions())
}

func (s *Server) disconnect(ctx *gin.Context) {
	topic := ctx.Param("topic")
	if err := s.bridge.Disconnect(ctx.Request.Context(), topic); err != nil {
		fail(ctx, http.StatusInternalServerError, err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) proposal(ctx *gin.Context) {
	proposal, err := s.bridge.CurrentProposal(ctx.Request.Context())
	if err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, proposal)
}

func (s *Server) approveProposal(ctx *gin.Context) {
	session, err := s.bridge.ApproveProposal(ctx.Request.Context())
	if err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, session)
}

func (s *Server) rejectProposal(ctx *gin.Context) {
	if err := s.bridge.RejectProposal(ctx.Request.Context()); err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) request(ctx *gin.Context) {
	view, err := s.bridge.CurrentRequest(ctx.Request.Context())
	if err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, view)
}

func (s *Server) approveRequest(ctx *gin.Context) {
	if err := s.bridge.ApproveRequest(ctx.Request.Context()); err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) rejectRequest(ctx *gin.Context) {
	if err := s.bridge.RejectRequest(ctx.Request.Context()); err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) closeRequest(ctx *gin.Context) {
	if err := s.bridge.CloseRequest(ctx.Request.Context()); err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, nil)
}

func (s *Server) chains(ctx *gin.Context) {
	ok(ctx, gin.H{
		"active": s.bridge.ActiveChainID(),
		"chains": s.bridge.Chains(),
	})
}

type switchChainRequest struct {
	ChainID int64 `json:"chainId" binding:"required"`
}

func (s *Server) switchChain(ctx *gin.Context) {
	var in switchChainRequest
	if err := ctx.ShouldBindJSON(&in); err != nil {
		fail(ctx, http.StatusBadRequest, err)
		return
	}
	if err := s.bridge.SwitchChain(ctx.Request.Context(), in.ChainID); err != nil {
		fail(ctx, statusFor(err), err)
		return
	}
	ok(ctx, nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, bridge.ErrNoProposal), errors.Is(err, bridge.ErrNoRequest):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrSwitchRequired), errors.Is(err, bridge.ErrRequestExecuting):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func ok(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func fail(ctx *gin.Context, code int, err error) {
	ctx.JSON(code, gin.H{"success": false, "error": err.Error()})
}
