// Package http exposes the aggregation API.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fogoprotocol/volumecard/internal/core/domain"
)

// VolumeService is the slice of the service layer the API needs.
type VolumeService interface {
	Aggregate(ctx context.Context, wallets []domain.Wallet) (*domain.VolumeSummary, error)
	InvalidateWallet(ctx context.Context, address string)
}

type volumeRequest struct {
	Wallets []domain.Wallet `json:"wallets"`
	Refresh bool            `json:"refresh"`
}

// NewRouter builds the gin engine serving the volume API.
func NewRouter(svc VolumeService) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery(), corsMiddleware())

	api := router.Group("/api")
	{
		api.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"success": true, "status": "ok"})
		})
		api.POST("/volume", handleVolume(svc))
	}
	return router
}

func handleVolume(svc VolumeService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req volumeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid request body: " + err.Error()})
			return
		}
		if len(req.Wallets) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "wallets must not be empty"})
			return
		}
		for i := range req.Wallets {
			if req.Wallets[i].Address == "" {
				c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "wallet address must not be empty"})
				return
			}
			if req.Wallets[i].Chain == "" {
				req.Wallets[i].Chain = domain.ChainEVM
			}
		}

		if req.Refresh {
			for _, w := range req.Wallets {
				svc.InvalidateWallet(c.Request.Context(), w.Address)
			}
		}

		summary, err := svc.Aggregate(c.Request.Context(), req.Wallets)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
