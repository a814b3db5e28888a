package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"chainquery/internal/chainerr"
	"chainquery/internal/config"
	"chainquery/internal/engine"
)

var queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name: "chainquery_request_duration_seconds",
	Help: "Latency of engine query operations served over HTTP.",
}, []string{"operation"})

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	e, err := engine.Open(engine.Options{
		DataDir:         cfg.DataDir,
		TxIndex:         cfg.TxIndex,
		NetworkOverride: cfg.NetworkOverride,
		WorkerPoolSize:  cfg.WorkerPoolSize,
		Logger:          logger,
	})
	if err != nil {
		logger.Fatal("open engine", zap.Error(err))
	}
	defer e.Close()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type"},
	}))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "max_height": e.GetMaxHeight()})
	})
	r.GET("/api/block/:height", timed("get_block", handleBlockByHeight(e)))
	r.GET("/api/block/hash/:hash", timed("get_block_by_hash", handleBlockByHash(e)))
	r.GET("/api/tx/:txid", timed("get_transaction", handleTransaction(e)))
	r.GET("/api/header/:height", timed("get_block_header", handleHeader(e)))
	r.GET("/api/iterate", timed("iterate", handleIterate(e)))
	r.Handle(http.MethodGet, "/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("listening", zap.String("addr", cfg.ListenAddr))
	if err := r.Run(cfg.ListenAddr); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func timed(op string, h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(queryDuration.WithLabelValues(op))
		defer timer.ObserveDuration()
		h(c)
	}
}

func handleBlockByHeight(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		height, err := strconv.ParseInt(c.Param("height"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "height must be an integer"})
			return
		}
		simple := c.Query("full") == ""
		connected := c.Query("connected") != ""
		blk, err := e.GetBlock(height, simple, connected)
		writeResult(c, blk, err)
	}
}

func handleBlockByHash(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		height, err := e.GetHeightFromHash(c.Param("hash"))
		if err != nil {
			writeResult(c, nil, err)
			return
		}
		simple := c.Query("full") == ""
		connected := c.Query("connected") != ""
		blk, err := e.GetBlock(height, simple, connected)
		writeResult(c, blk, err)
	}
}

func handleTransaction(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		simple := c.Query("full") == ""
		connected := c.Query("connected") != ""
		tx, err := e.GetTransaction(c.Param("txid"), simple, connected)
		writeResult(c, tx, err)
	}
}

func handleHeader(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		height, err := strconv.ParseInt(c.Param("height"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "height must be an integer"})
			return
		}
		hdr, txCount, err := e.GetBlockHeader(height)
		if err != nil {
			writeResult(c, nil, err)
			return
		}
		writeResult(c, gin.H{"header": hdr, "tx_count": txCount}, nil)
	}
}

// handleIterate streams blocks [start, stop) as newline-delimited JSON,
// flushing after each block so a client sees results as they arrive
// rather than buffered until the whole range completes.
func handleIterate(e *engine.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		start, err := strconv.ParseInt(c.Query("start"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "start must be an integer"})
			return
		}
		stop, err := strconv.ParseInt(c.Query("stop"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "stop must be an integer"})
			return
		}
		simple := c.Query("full") == ""
		connected := c.Query("connected") != ""

		it := e.NewIterator(0, nil)
		c.Status(http.StatusOK)
		c.Header("Content-Type", "application/x-ndjson")

		enc := json.NewEncoder(c.Writer)
		for res := range it.IterByRange(c.Request.Context(), start, stop, simple, connected) {
			if res.Err != nil {
				if res.Err == context.Canceled {
					return
				}
				_ = enc.Encode(gin.H{"height": res.Height, "error": res.Err.Error()})
				return
			}
			if err := enc.Encode(res.Block); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}

// writeResult maps the engine's error taxonomy onto HTTP status codes.
func writeResult(c *gin.Context, v interface{}, err error) {
	if err == nil {
		c.JSON(http.StatusOK, v)
		return
	}
	switch {
	case chainerr.Is(err, chainerr.UnknownHeight), chainerr.Is(err, chainerr.UnknownHash), chainerr.Is(err, chainerr.UnknownTxID):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case chainerr.Is(err, chainerr.BlockNotAvailable), chainerr.Is(err, chainerr.TxIndexDisabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
