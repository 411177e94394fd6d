package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/oauth2"

	"github.com/anishahaha07/myfi-scanner/internal/extract"
	"github.com/anishahaha07/myfi-scanner/internal/mail"
)

var scanNow = time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)

type stubClock struct{}

func (stubClock) Now() time.Time { return scanNow }

// mockMailbox serves canned ids and messages, with scripted errors
// consumed one per call.
type mockMailbox struct {
	listIDs     []string
	listErrs    []error
	listCalls   int
	lastListCtx context.Context
	msgs        map[string]*mail.RawMessage
	fetchErrs   []error
	fetchCalls  int
}

func (m *mockMailbox) List(ctx context.Context, _ string, _ int64) ([]string, error) {
	m.listCalls++
	m.lastListCtx = ctx
	if len(m.listErrs) > 0 {
		err := m.listErrs[0]
		m.listErrs = m.listErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return m.listIDs, nil
}

func (m *mockMailbox) Fetch(_ context.Context, id string) (*mail.RawMessage, error) {
	m.fetchCalls++
	if len(m.fetchErrs) > 0 {
		err := m.fetchErrs[0]
		m.fetchErrs = m.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if msg, ok := m.msgs[id]; ok {
		return msg, nil
	}
	return &mail.RawMessage{ID: id}, nil
}

func (m *mockMailbox) FetchAttachment(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("not implemented")
}

// mockPipeline yields one fixed record per processed message.
type mockPipeline struct {
	processed []string
	receipts  map[string]*extract.Receipt
	resets    int
}

func (p *mockPipeline) Process(_ context.Context, msg *mail.RawMessage) *extract.Receipt {
	p.processed = append(p.processed, msg.ID)
	return p.receipts[msg.ID]
}

func (p *mockPipeline) Reset() { p.resets++ }

// mockStore is an in-memory Store.
type mockStore struct {
	result    *ScanResult
	token     *oauth2.Token
	errorFlag string
	saveCalls int
}

func (s *mockStore) SaveResult(result *ScanResult) error {
	s.saveCalls++
	s.result = result
	return nil
}

func (s *mockStore) LoadResult() (*ScanResult, error) {
	if s.result == nil {
		return nil, ErrNoResult
	}
	return s.result, nil
}

func (s *mockStore) SaveToken(token *oauth2.Token) error { s.token = token; return nil }

func (s *mockStore) LoadToken() (*oauth2.Token, error) {
	if s.token == nil {
		return nil, ErrNoResult
	}
	return s.token, nil
}

func (s *mockStore) DeleteToken() error { s.token = nil; return nil }

func (s *mockStore) SetErrorFlag(msg string) error { s.errorFlag = msg; return nil }

func (s *mockStore) ErrorFlag() (string, error) { return s.errorFlag, nil }

func (s *mockStore) Close() error { return nil }

// mockCreds counts refreshes and optionally fails them.
type mockCreds struct {
	refreshes  int
	refreshErr error
}

func (c *mockCreds) Token() (*oauth2.Token, error) { return &oauth2.Token{AccessToken: "t"}, nil }

func (c *mockCreds) Refresh(context.Context) error {
	c.refreshes++
	return c.refreshErr
}

var _ = Describe("Coordinator", func() {
	var (
		mailbox  *mockMailbox
		pipeline *mockPipeline
		store    *mockStore
		creds    *mockCreds
		slept    []time.Duration
		c        *Coordinator
	)

	BeforeEach(func() {
		mailbox = &mockMailbox{msgs: map[string]*mail.RawMessage{}}
		pipeline = &mockPipeline{receipts: map[string]*extract.Receipt{}}
		store = &mockStore{}
		creds = &mockCreds{}
		slept = nil
		c = NewCoordinator(mailbox, pipeline, store, creds)
		c.clock = stubClock{}
		c.sleep = func(d time.Duration) { slept = append(slept, d) }
	})

	Describe("Scan", func() {
		It("persists the processed records in one result", func() {
			mailbox.listIDs = []string{"m1", "m2", "m3"}
			pipeline.receipts["m1"] = &extract.Receipt{ID: "r1", Merchant: "Amazon", Amount: 500}
			pipeline.receipts["m3"] = &extract.Receipt{ID: "r3", Merchant: "Swiggy", Amount: 250}

			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(store.result).NotTo(BeNil())
			Expect(store.result.Records).To(HaveLen(2))
			Expect(store.result.Records[0].Merchant).To(Equal("Amazon"))
			Expect(store.result.Records[1].Merchant).To(Equal("Swiggy"))
			Expect(store.result.ScannedAt).To(BeTemporally("==", scanNow))
			Expect(store.result.Error).To(BeEmpty())
			Expect(store.errorFlag).To(BeEmpty())
			Expect(pipeline.processed).To(Equal([]string{"m1", "m2", "m3"}))
		})

		It("paces fetches with a fixed delay", func() {
			mailbox.listIDs = []string{"m1", "m2", "m3"}

			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(slept).To(Equal([]time.Duration{100 * time.Millisecond, 100 * time.Millisecond}))
		})

		It("persists an empty result when the inbox matches nothing", func() {
			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(store.result.Records).To(BeEmpty())
			Expect(store.result.Error).To(BeEmpty())
		})

		It("records a batch error when listing fails", func() {
			mailbox.listErrs = []error{fmt.Errorf("backend exploded")}

			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(store.result.Records).To(BeEmpty())
			Expect(store.result.Error).To(Equal("backend exploded"))
			Expect(store.errorFlag).To(Equal("backend exploded"))
			Expect(creds.refreshes).To(BeZero())
		})

		It("skips messages whose fetch keeps failing", func() {
			mailbox.listIDs = []string{"m1", "m2"}
			mailbox.fetchErrs = []error{errors.New("corrupt message"), nil}
			pipeline.receipts["m2"] = &extract.Receipt{ID: "r2", Amount: 90}

			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(pipeline.processed).To(Equal([]string{"m2"}))
			Expect(store.result.Records).To(HaveLen(1))
			Expect(store.result.Error).To(BeEmpty())
		})

		It("retries a rate-limited fetch after backing off", func() {
			mailbox.listIDs = []string{"m1"}
			mailbox.fetchErrs = []error{mail.ErrRateLimited, mail.ErrRateLimited, nil}
			pipeline.receipts["m1"] = &extract.Receipt{ID: "r1", Amount: 40}

			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(mailbox.fetchCalls).To(Equal(3))
			Expect(slept).To(Equal([]time.Duration{5 * time.Second, 5 * time.Second}))
			Expect(store.result.Records).To(HaveLen(1))
		})

		It("gives up on a fetch after the retry cap", func() {
			mailbox.listIDs = []string{"m1"}
			mailbox.fetchErrs = []error{mail.ErrRateLimited, mail.ErrRateLimited, mail.ErrRateLimited}

			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(mailbox.fetchCalls).To(Equal(3))
			Expect(store.result.Records).To(BeEmpty())
			Expect(store.result.Error).To(BeEmpty())
		})

		When("listing is unauthorized", func() {
			BeforeEach(func() {
				mailbox.listErrs = []error{mail.ErrUnauthorized}
				mailbox.listIDs = []string{"m1"}
				pipeline.receipts["m1"] = &extract.Receipt{ID: "r1", Amount: 75}
			})

			It("refreshes the credential and retries the whole batch", func() {
				Expect(c.Scan(context.Background())).To(Succeed())

				Expect(creds.refreshes).To(Equal(1))
				Expect(mailbox.listCalls).To(Equal(2))
				Expect(store.result.Records).To(HaveLen(1))
				Expect(store.result.Error).To(BeEmpty())
			})

			It("asks the user to re-authenticate when the retry also fails", func() {
				mailbox.listErrs = []error{mail.ErrUnauthorized, mail.ErrUnauthorized}

				Expect(c.Scan(context.Background())).To(Succeed())

				Expect(creds.refreshes).To(Equal(1))
				Expect(store.result.Records).To(BeEmpty())
				Expect(store.result.Error).To(Equal("please re-authenticate"))
				Expect(store.errorFlag).To(Equal("please re-authenticate"))
			})

			It("asks the user to re-authenticate when the refresh fails", func() {
				creds.refreshErr = errors.New("revoked")

				Expect(c.Scan(context.Background())).To(Succeed())

				Expect(mailbox.listCalls).To(Equal(1))
				Expect(store.result.Error).To(Equal("please re-authenticate"))
			})
		})

		It("treats an unauthorized fetch like an unauthorized listing", func() {
			mailbox.listIDs = []string{"m1"}
			mailbox.fetchErrs = []error{mail.ErrUnauthorized, nil}
			pipeline.receipts["m1"] = &extract.Receipt{ID: "r1", Amount: 75}

			Expect(c.Scan(context.Background())).To(Succeed())

			Expect(creds.refreshes).To(Equal(1))
			Expect(store.result.Records).To(HaveLen(1))
		})
	})

	Describe("Refresh", func() {
		It("detaches the scan from the trigger's context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			mailbox.listIDs = []string{"m1"}
			pipeline.receipts["m1"] = &extract.Receipt{ID: "r1", Amount: 75}

			Expect(c.Refresh(ctx)).To(Succeed())
			// The HTTP handler's context dies as soon as the ack is
			// written; the scan must carry on regardless.
			cancel()

			Eventually(c.Running).Should(BeFalse())
			Expect(mailbox.lastListCtx.Err()).To(BeNil())
			Expect(store.result).NotTo(BeNil())
			Expect(store.result.Records).To(HaveLen(1))
			Expect(store.result.Error).To(BeEmpty())
		})
	})

	Describe("batch state", func() {
		It("opens a fresh call budget for every batch", func() {
			Expect(c.Scan(context.Background())).To(Succeed())
			Expect(pipeline.resets).To(Equal(1))

			Expect(c.Scan(context.Background())).To(Succeed())
			Expect(pipeline.resets).To(Equal(2))
		})

		It("resets again for the post-refresh retry batch", func() {
			mailbox.listErrs = []error{mail.ErrUnauthorized}

			Expect(c.Scan(context.Background())).To(Succeed())
			Expect(pipeline.resets).To(Equal(2))
		})
	})

	Describe("re-entrancy", func() {
		It("rejects a scan while one is running", func() {
			c.state.Store(stateRunning)

			Expect(c.Scan(context.Background())).To(MatchError(ErrScanInProgress))
			Expect(c.Refresh(context.Background())).To(MatchError(ErrScanInProgress))
			Expect(c.Running()).To(BeTrue())
		})

		It("reports idle after a scan completes", func() {
			Expect(c.Scan(context.Background())).To(Succeed())
			Expect(c.Running()).To(BeFalse())
		})
	})

	Describe("buildQuery", func() {
		It("limits the search to the lookback window", func() {
			query := c.buildQuery()
			Expect(query).To(ContainSubstring("subject:(receipt OR order OR invoice OR confirmation)"))
			Expect(query).To(ContainSubstring("after:2025-10-11"))
			Expect(query).To(ContainSubstring("from:(amazon.com OR"))
		})
	})
})

var _ = Describe("TokenCache", func() {
	var (
		store *mockStore
		calls int
		cache *TokenCache
	)

	sourceToken := &oauth2.Token{AccessToken: "fresh", Expiry: scanNow.Add(time.Hour)}

	BeforeEach(func() {
		store = &mockStore{}
		calls = 0
		source := tokenSourceFunc(func() (*oauth2.Token, error) {
			calls++
			return sourceToken, nil
		})
		cache = NewTokenCache(store, source)
	})

	It("serves a valid cached token without consulting the source", func() {
		store.token = &oauth2.Token{AccessToken: "cached", Expiry: time.Now().Add(time.Hour)}

		token, err := cache.Token()
		Expect(err).NotTo(HaveOccurred())
		Expect(token.AccessToken).To(Equal("cached"))
		Expect(calls).To(BeZero())
	})

	It("refreshes when nothing is cached and persists the result", func() {
		token, err := cache.Token()
		Expect(err).NotTo(HaveOccurred())
		Expect(token.AccessToken).To(Equal("fresh"))
		Expect(store.token).NotTo(BeNil())
		Expect(calls).To(Equal(1))
	})

	It("refreshes when the cached token has expired", func() {
		store.token = &oauth2.Token{AccessToken: "stale", Expiry: time.Now().Add(-time.Hour)}

		token, err := cache.Token()
		Expect(err).NotTo(HaveOccurred())
		Expect(token.AccessToken).To(Equal("fresh"))
	})

	It("discards the cache on Refresh", func() {
		store.token = &oauth2.Token{AccessToken: "cached", Expiry: time.Now().Add(time.Hour)}

		Expect(cache.Refresh(context.Background())).To(Succeed())
		Expect(store.token.AccessToken).To(Equal("fresh"))
		Expect(calls).To(Equal(1))
	})
})

// tokenSourceFunc adapts a func to oauth2.TokenSource.
type tokenSourceFunc func() (*oauth2.Token, error)

func (f tokenSourceFunc) Token() (*oauth2.Token, error) { return f() }
