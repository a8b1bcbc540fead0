// Package metrics は配信とアーカイブの稼働状況を Prometheus 形式で公開する
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mirwatch"

// 記録結果のラベル値
const (
	ResultWritten = "written"
	ResultInvalid = "invalid"
	ResultNoFile  = "no_file"
	ResultError   = "error"
)

// Metrics はアプリケーション全体のメトリクスを保持する。
// nil レシーバのメソッド呼び出しは何もしない。
type Metrics struct {
	registry *prometheus.Registry

	FramesPublished  prometheus.Counter
	ViewersActive    *prometheus.GaugeVec
	PartsWritten     prometheus.Counter
	ArchiveFrames    *prometheus.CounterVec
	Rotations        *prometheus.CounterVec
	RetentionDeletes *prometheus.CounterVec
}

// New は専用レジストリに登録済みの Metrics を作成する
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		FramesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "frames_published_total",
			Help:      "Total number of frames published to the frame bus",
		}),

		ViewersActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "stream",
				Name:      "viewers_active",
				Help:      "Number of currently connected viewers",
			},
			[]string{"transport"},
		),

		PartsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "parts_written_total",
			Help:      "Total number of frames written to viewers",
		}),

		ArchiveFrames: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "frames_total",
				Help:      "Frames handed to the archive, by result",
			},
			[]string{"result"},
		),

		Rotations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "rotations_total",
				Help:      "Archive file rotations, by status",
			},
			[]string{"status"},
		),

		RetentionDeletes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "archive",
				Name:      "retention_deletes_total",
				Help:      "Archive files removed by the retention cap, by status",
			},
			[]string{"status"},
		),
	}

	m.registry.MustRegister(
		m.FramesPublished,
		m.ViewersActive,
		m.PartsWritten,
		m.ArchiveFrames,
		m.Rotations,
		m.RetentionDeletes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

// Registry は内部の Prometheus レジストリを返す
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler は /metrics 用のHTTPハンドラを返す
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// FramePublished はフレーム公開を記録する
func (m *Metrics) FramePublished() {
	if m == nil {
		return
	}
	m.FramesPublished.Inc()
}

// ViewerConnected は視聴者の接続を記録し、切断時に呼ぶ関数を返す
func (m *Metrics) ViewerConnected(transport string) func() {
	if m == nil {
		return func() {}
	}
	g := m.ViewersActive.WithLabelValues(transport)
	g.Inc()
	return g.Dec
}

// PartWritten は視聴者へのフレーム送信を記録する
func (m *Metrics) PartWritten() {
	if m == nil {
		return
	}
	m.PartsWritten.Inc()
}

// ArchiveFrame はアーカイブへのフレーム書き込み結果を記録する
func (m *Metrics) ArchiveFrame(result string) {
	if m == nil {
		return
	}
	m.ArchiveFrames.WithLabelValues(result).Inc()
}

// Rotation はファイルローテーションの結果を記録する
func (m *Metrics) Rotation(err error) {
	if m == nil {
		return
	}
	m.Rotations.WithLabelValues(status(err)).Inc()
}

// RetentionDelete は保持上限による削除の結果を記録する
func (m *Metrics) RetentionDelete(err error) {
	if m == nil {
		return
	}
	m.RetentionDeletes.WithLabelValues(status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
