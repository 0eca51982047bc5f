package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qdrop_uploads_total",
		Help: "Uploads by outcome",
	}, []string{"result"})
	uploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qdrop_upload_bytes_total",
		Help: "Bytes staged by uploads, including ones later discarded",
	})
)
