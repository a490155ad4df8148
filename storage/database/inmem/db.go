package inmemdb

import (
	"strconv"
	"sync"

	"github.com/classhour/backend/core/billing"
	"github.com/classhour/backend/core/complaint"
	"github.com/classhour/backend/core/hours"
	"github.com/classhour/backend/core/referral"
	"github.com/classhour/backend/core/schedule"
	"github.com/classhour/backend/core/user"
)

// DB is an in-memory store backing every repository, used by dev mode and
// tests. One mutex guards all tables: the billing paths touch hour records and
// invoices together and the coarse lock keeps that atomic for free.
type DB struct {
	mu sync.RWMutex
	// refMu guards the referral table on its own: the reward callback reads
	// other tables mid-flight, which would deadlock under the shared lock.
	refMu sync.Mutex

	pkMu sync.Mutex
	pk   int

	users      map[string]*user.User
	records    map[string]*hours.HourRecord
	disputes   map[string]*hours.Dispute
	aggregates map[string]*billing.Aggregate
	invoices   map[string]*billing.Invoice
	payouts    map[string]*billing.Payout
	referrals  map[string]*referral.Referral
	complaints map[string]*complaint.Complaint
	lessons    map[string]*schedule.Lesson
}

func NewDB() *DB {
	return &DB{
		users:      make(map[string]*user.User),
		records:    make(map[string]*hours.HourRecord),
		disputes:   make(map[string]*hours.Dispute),
		aggregates: make(map[string]*billing.Aggregate),
		invoices:   make(map[string]*billing.Invoice),
		payouts:    make(map[string]*billing.Payout),
		referrals:  make(map[string]*referral.Referral),
		complaints: make(map[string]*complaint.Complaint),
		lessons:    make(map[string]*schedule.Lesson),
	}
}

func (db *DB) nextPK() string {
	db.pkMu.Lock()
	defer db.pkMu.Unlock()
	db.pk++
	return strconv.Itoa(db.pk)
}
