package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"LaneFinder/engine"
	iface "LaneFinder/interface"
	"LaneFinder/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const maxFrameBytes = 20 * 1024 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func newRouter(a *App) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.GET("/api/workers", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": a.pool.Workers()})
	})
	r.POST("/api/sessions", func(c *gin.Context) {
		sess, err := a.pool.Alloc()
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "All workers are busy"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessionID": sess.ID(),
			"worker":    sess.Info().Worker,
			"wsURL":     fmt.Sprintf("ws://%s/ws/%s", c.Request.Host, sess.ID()),
			"timeoutMs": a.pool.IdleTimeout().Milliseconds(),
		})
	})
	r.GET("/api/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"data": a.pool.Sessions()})
	})
	r.GET("/api/sessions/:id", func(c *gin.Context) {
		sess, ok := lookup(c, a.pool)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": sess.Info()})
	})
	r.GET("/api/sessions/:id/result", func(c *gin.Context) {
		sess, ok := lookup(c, a.pool)
		if !ok {
			return
		}
		g, ok := sess.Latest()
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "No frame processed yet"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": g})
	})
	r.POST("/api/sessions/:id/frames", func(c *gin.Context) {
		sess, ok := lookup(c, a.pool)
		if !ok {
			return
		}
		data, err := readFrame(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		frame, err := engine.DecodeImage(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid image: " + err.Error()})
			return
		}
		defer frame.Close()

		if c.Query("annotated") == "" || c.Query("annotated") == "0" {
			g, err := sess.Process(frame)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, gin.H{"data": g})
			return
		}
		var jpeg []byte
		err = sess.ProcessWith(frame, func(res *iface.FrameResult) error {
			out := a.composer.Render(res)
			defer out.Close()
			buf, err := gocv.IMEncode(gocv.JPEGFileExt, out)
			if err != nil {
				return err
			}
			defer buf.Close()
			jpeg = append([]byte(nil), buf.GetBytes()...)
			return nil
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.Data(http.StatusOK, "image/jpeg", jpeg)
	})
	r.POST("/api/sessions/:id/release", func(c *gin.Context) {
		if err := a.pool.Release(c.Param("id")); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": "Session released"})
	})
	r.GET("/ws/:id", func(c *gin.Context) {
		sess, ok := lookup(c, a.pool)
		if !ok {
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// the upgrader already answered the client
			return
		}
		serveStream(a.pool, sess, conn)
	})
	return r
}

func lookup(c *gin.Context, pool *engine.Pool) (*engine.Session, bool) {
	sess, err := pool.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return nil, false
	}
	return sess, true
}

// readFrame accepts a multipart "frame" field or the raw request body.
func readFrame(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxFrameBytes)
	if file, err := c.FormFile("frame"); err == nil {
		f, err := file.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty frame")
	}
	return data, nil
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, engine.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
	case errors.Is(err, iface.ErrInputDimension):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// serveStream answers every websocket frame with its geometry until the
// client leaves or the session is released.
func serveStream(pool *engine.Pool, sess *engine.Session, conn *websocket.Conn) {
	conn.SetReadLimit(maxFrameBytes)
	var writeMu sync.Mutex
	reply := func(v any) {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = conn.WriteJSON(v)
	}
	sess.OnClose(func() {
		writeMu.Lock()
		defer writeMu.Unlock()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session released"))
		_ = conn.Close()
	})

	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			// client gone: give the worker back
			_ = pool.Release(sess.ID())
			logger.Log().Info("stream closed", zap.String("session", sess.ID()), zap.Error(err))
			return
		}
		sess.Touch()
		var frame gocv.Mat
		switch mt {
		case websocket.TextMessage:
			frame, err = engine.Base64ToMat(string(msg))
		case websocket.BinaryMessage:
			frame, err = engine.DecodeImage(msg)
		default:
			reply(gin.H{"error": "unsupported message type"})
			continue
		}
		if err != nil {
			frame.Close()
			reply(gin.H{"error": fmt.Sprintf("invalid image: %v", err)})
			continue
		}
		g, err := sess.Process(frame)
		frame.Close()
		if err != nil {
			reply(gin.H{"error": err.Error()})
			continue
		}
		reply(g)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Log().Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}
