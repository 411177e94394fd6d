package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/anishahaha07/myfi-scanner/internal/extract"
	"github.com/anishahaha07/myfi-scanner/internal/scan"
)

type stubResults struct {
	result *scan.ScanResult
	err    error
}

func (s *stubResults) LoadResult() (*scan.ScanResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

type stubRefresher struct {
	err     error
	running bool
	calls   int
}

func (s *stubRefresher) Refresh(context.Context) error {
	s.calls++
	return s.err
}

func (s *stubRefresher) Running() bool { return s.running }

var _ = Describe("Server", func() {
	var (
		results   *stubResults
		refresher *stubRefresher
		server    *Server
	)

	do := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		rec := httptest.NewRecorder()
		server.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		results = &stubResults{result: &scan.ScanResult{
			Records: []extract.Receipt{
				{ID: "r1", Merchant: "Amazon", Amount: 500, Category: extract.CategoryShopping},
				{ID: "r2", Merchant: "Unknown", Amount: 0, Category: extract.CategoryOther, Error: true},
				{ID: "r3", Merchant: "Swiggy", Amount: 250, Category: extract.CategoryFood},
			},
			ScannedAt: scannedAt,
		}}
		refresher = &stubRefresher{}
		server = NewServer(results, refresher, BasicAuth{})
	})

	Describe("GET /api/receipts", func() {
		It("returns the records with degraded entries filtered out", func() {
			rec := do("GET", "/api/receipts")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Header().Get("Content-Type")).To(Equal("application/json"))

			var receipts []extract.Receipt
			Expect(json.Unmarshal(rec.Body.Bytes(), &receipts)).To(Succeed())
			Expect(receipts).To(HaveLen(2))
			Expect(receipts[0].ID).To(Equal("r1"))
			Expect(receipts[1].ID).To(Equal("r3"))
		})

		It("returns an empty list before the first scan", func() {
			results.err = scan.ErrNoResult

			rec := do("GET", "/api/receipts")
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON("[]"))
		})

		It("fails on a storage error", func() {
			results.err = errors.New("disk gone")

			rec := do("GET", "/api/receipts")
			Expect(rec.Code).To(Equal(http.StatusInternalServerError))
		})

		It("rejects other methods", func() {
			rec := do("POST", "/api/receipts")
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("GET /api/summary", func() {
		It("returns the aggregated view", func() {
			rec := do("GET", "/api/summary")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var summary Summary
			Expect(json.Unmarshal(rec.Body.Bytes(), &summary)).To(Succeed())
			Expect(summary.Total).To(Equal(750.0))
			Expect(summary.ReceiptCount).To(Equal(2))
		})
	})

	Describe("GET /api/status", func() {
		It("reports the scan state", func() {
			refresher.running = true

			rec := do("GET", "/api/status")
			Expect(rec.Code).To(Equal(http.StatusOK))

			var status struct {
				Scanning    bool      `json:"scanning"`
				LastScanned time.Time `json:"last_scanned"`
				Error       string    `json:"error"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &status)).To(Succeed())
			Expect(status.Scanning).To(BeTrue())
			Expect(status.LastScanned).To(BeTemporally("==", scannedAt))
			Expect(status.Error).To(BeEmpty())
		})
	})

	Describe("POST /api/refresh", func() {
		It("accepts and starts a background scan", func() {
			rec := do("POST", "/api/refresh")
			Expect(rec.Code).To(Equal(http.StatusAccepted))
			Expect(rec.Body.String()).To(MatchJSON(`{"status": "scanning"}`))
			Expect(refresher.calls).To(Equal(1))
		})

		It("conflicts while a scan is already running", func() {
			refresher.err = scan.ErrScanInProgress

			rec := do("POST", "/api/refresh")
			Expect(rec.Code).To(Equal(http.StatusConflict))
		})

		It("rejects GET", func() {
			rec := do("GET", "/api/refresh")
			Expect(rec.Code).To(Equal(http.StatusMethodNotAllowed))
		})
	})

	Describe("basic auth", func() {
		BeforeEach(func() {
			server = NewServer(results, refresher, BasicAuth{Username: "fin", Password: "secret"})
		})

		It("rejects requests without credentials", func() {
			rec := do("GET", "/api/receipts")
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
			Expect(rec.Header().Get("WWW-Authenticate")).To(ContainSubstring("Basic"))
		})

		It("rejects wrong credentials", func() {
			req := httptest.NewRequest("GET", "/api/receipts", nil)
			req.SetBasicAuth("fin", "wrong")
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusUnauthorized))
		})

		It("accepts matching credentials", func() {
			req := httptest.NewRequest("GET", "/api/receipts", nil)
			req.SetBasicAuth("fin", "secret")
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			Expect(rec.Code).To(Equal(http.StatusOK))
		})
	})
})
