// Package httpapi serves a read-only JSON view of the gateway's accounts.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/terminus/internal/gateway"
	"github.com/MarkoPoloResearchLab/terminus/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const (
	claimsContextKey = "auth_claims"
	bearerPrefix     = "Bearer "
	shutdownTimeout  = 5 * time.Second
)

// Reader is the gateway surface the API exposes.
type Reader interface {
	GetInfo() gateway.Info
	GetAccountInfo(names ...string) []ledger.AccountAttributes
	GetAccountReceipts(name string) ([]ledger.ReceiptSession, error)
}

// Config holds the HTTP settings.
type Config struct {
	ListenAddr     string
	AllowedOrigins []string
	// JWTSecret enables HS256 bearer authentication on /api when set.
	JWTSecret string
	JWTIssuer string
}

// Run serves the API until ctx is done.
func Run(ctx context.Context, cfg Config, reader Reader, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           NewRouter(cfg, reader, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine.
func NewRouter(cfg Config, reader Reader, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "OPTIONS"},
			AllowHeaders:     []string{"Authorization", "Content-Type", "Origin", "Accept"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}))
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	handler := &httpHandler{reader: reader, logger: logger}
	api := router.Group("/api")
	if cfg.JWTSecret != "" {
		api.Use(bearerAuth([]byte(cfg.JWTSecret), cfg.JWTIssuer))
	}
	api.GET("/accounts", handler.handleAccounts)
	api.GET("/accounts/:name", handler.handleAccount)
	api.GET("/accounts/:name/receipts", handler.handleReceipts)
	return router
}

type httpHandler struct {
	reader Reader
	logger *zap.Logger
}

func (handler *httpHandler) handleAccounts(ctx *gin.Context) {
	info := handler.reader.GetInfo()
	ctx.JSON(http.StatusOK, gin.H{"accounts": info.Accounts, "summary": info.Summary})
}

func (handler *httpHandler) handleAccount(ctx *gin.Context) {
	name := ctx.Param("name")
	accounts := handler.reader.GetAccountInfo(name)
	if len(accounts) == 0 {
		ctx.JSON(http.StatusNotFound, errorResponse("unknown_account", fmt.Sprintf("%s: %s", ledger.ErrUnknownAccount, name)))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"account": accounts[0]})
}

func (handler *httpHandler) handleReceipts(ctx *gin.Context) {
	name := ctx.Param("name")
	receipts, err := handler.reader.GetAccountReceipts(name)
	if err != nil {
		status, code := mapToHTTPStatus(err)
		if status == http.StatusInternalServerError {
			handler.logger.Error("receipts fetch failed", zap.String("account", name), zap.Error(err))
		}
		ctx.JSON(status, errorResponse(code, err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"name": name, "receipts": receipts})
}

// Claims are the bearer token claims the API accepts.
type Claims struct {
	jwt.RegisteredClaims
}

func bearerAuth(secret []byte, issuer string) gin.HandlerFunc {
	parserOptions := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(parserOptions...)
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "missing bearer token"))
			return
		}
		claims := &Claims{}
		_, err := parser.ParseWithClaims(strings.TrimPrefix(header, bearerPrefix), claims, func(*jwt.Token) (any, error) {
			return secret, nil
		})
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse("unauthorized", "invalid bearer token"))
			return
		}
		ctx.Set(claimsContextKey, claims)
		ctx.Next()
	}
}

func mapToHTTPStatus(err error) (int, string) {
	if errors.Is(err, ledger.ErrUnknownAccount) {
		return http.StatusNotFound, "unknown_account"
	}
	switch ledger.KindOf(err) {
	case ledger.ErrorKindValidation:
		return http.StatusBadRequest, "invalid_request"
	case ledger.ErrorKindBalance, ledger.ErrorKindCollision:
		return http.StatusConflict, string(ledger.KindOf(err))
	case ledger.ErrorKindCollaborator:
		return http.StatusBadGateway, "collaborator_error"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}
