package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"flavorfind/internal/logging"
)

const Version = "1.0.0"

// Info is what the health payload reports about the running process.
type Info struct {
	Environment string
	Port        string
}

// InfoFunc supplies Info per request. It may fail or panic; both become a
// 500 payload.
type InfoFunc func() (Info, error)

type healthOK struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	AppID       string `json:"appId"`
	Manifest    string `json:"manifest"`
	Version     string `json:"version"`
	Environment string `json:"environment"`
	Port        string `json:"port"`
}

type healthErr struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	AppID     string `json:"appId"`
	Error     string `json:"error"`
}

// isoMillis matches the millisecond UTC form browsers produce.
const isoMillis = "2006-01-02T15:04:05.000Z"

// HealthHandler answers liveness checks on any method.
func HealthHandler(info InfoFunc, log *logrus.Entry) gin.HandlerFunc {
	log = logging.OrDiscard(log)
	return func(c *gin.Context) {
		timestamp := time.Now().UTC().Format(isoMillis)
		appID := c.GetHeader("X-App-ID")
		if appID == "" {
			appID = "Unknown"
		}
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"url":    c.Request.URL.String(),
			"appId":  appID,
		}).Info("health check requested")

		in, err := safeInfo(info)
		if err != nil {
			log.WithError(err).Error("health check failed")
			c.JSON(http.StatusInternalServerError, healthErr{
				Status:    "error",
				Timestamp: timestamp,
				AppID:     appID,
				Error:     err.Error(),
			})
			return
		}
		c.JSON(http.StatusOK, healthOK{
			Status:      "ok",
			Timestamp:   timestamp,
			AppID:       appID,
			Manifest:    "running",
			Version:     Version,
			Environment: in.Environment,
			Port:        in.Port,
		})
	}
}

func safeInfo(info InfoFunc) (in Info, err error) {
	if info == nil {
		return Info{}, errors.New("no info provider")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("info provider panicked: %v", r)
		}
	}()
	return info()
}
