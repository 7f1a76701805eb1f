package mediadb

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Stats struct {
	Broadcasts  int
	Cameras     int
	Vods        int
	Undecodable int
	Size        int64

	Reads     uint64
	Writes    uint64
	Failures  uint64
	NotFounds uint64
}

// Stats scans both collections. Cameras counts broadcasts of type ipCamera.
// Documents that fail to decode are counted in their collection and in
// Undecodable rather than failing the scan.
func (db *DB) Stats() (Stats, error) {
	s := Stats{
		Reads:     db.ReadCount.Load(),
		Writes:    db.WriteCount.Load(),
		Failures:  db.FailureCount.Load(),
		NotFounds: db.NotFoundCount.Load(),
	}
	var err error
	s.Size, err = db.Size()
	if err != nil {
		return s, err
	}

	entries, err := db.broadcasts.Entries()
	if err != nil {
		return s, err
	}
	s.Broadcasts = len(entries)
	for _, e := range entries {
		b, err := decodeDoc[Broadcast](db.enc, e.Value)
		if err != nil {
			s.Undecodable++
		} else if b.IsCamera() {
			s.Cameras++
		}
	}

	entries, err = db.vods.Entries()
	if err != nil {
		return s, err
	}
	s.Vods = len(entries)
	for _, e := range entries {
		if _, err := decodeDoc[Vod](db.enc, e.Value); err != nil {
			s.Undecodable++
		}
	}
	return s, nil
}

var (
	descRecords = prometheus.NewDesc("mediadb_records", "Number of records per collection.", []string{"collection"}, nil)
	descSize    = prometheus.NewDesc("mediadb_size_bytes", "Size of the store, if known to the backend.", nil, nil)
	descBad     = prometheus.NewDesc("mediadb_undecodable_records", "Stored documents that fail to decode.", nil, nil)
	descOps     = prometheus.NewDesc("mediadb_operations_total", "Facade operations by kind.", []string{"kind"}, nil)
	descErrors  = prometheus.NewDesc("mediadb_errors_total", "Failed facade operations by cause.", []string{"cause"}, nil)
)

type collector struct {
	db *DB
}

// Collector exports the store's Stats as Prometheus metrics. Every scrape
// scans the collections.
func (db *DB) Collector() prometheus.Collector {
	return collector{db}
}

func (c collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRecords
	ch <- descSize
	ch <- descBad
	ch <- descOps
	ch <- descErrors
}

func (c collector) Collect(ch chan<- prometheus.Metric) {
	if c.db.closed.Load() {
		return
	}
	s, err := c.db.Stats()
	if err != nil {
		ch <- prometheus.NewInvalidMetric(descRecords, err)
	} else {
		ch <- prometheus.MustNewConstMetric(descRecords, prometheus.GaugeValue, float64(s.Broadcasts-s.Cameras), "broadcast")
		ch <- prometheus.MustNewConstMetric(descRecords, prometheus.GaugeValue, float64(s.Cameras), "camera")
		ch <- prometheus.MustNewConstMetric(descRecords, prometheus.GaugeValue, float64(s.Vods), "vod")
		ch <- prometheus.MustNewConstMetric(descBad, prometheus.GaugeValue, float64(s.Undecodable))
	}
	ch <- prometheus.MustNewConstMetric(descSize, prometheus.GaugeValue, float64(s.Size))
	ch <- prometheus.MustNewConstMetric(descOps, prometheus.CounterValue, float64(s.Reads), "read")
	ch <- prometheus.MustNewConstMetric(descOps, prometheus.CounterValue, float64(s.Writes), "write")
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(s.Failures), "failure")
	ch <- prometheus.MustNewConstMetric(descErrors, prometheus.CounterValue, float64(s.NotFounds), "not_found")
}
