package memorydriver

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrDuplicate mirrors a unique constraint violation.
	ErrDuplicate = errors.New("memorydriver: duplicate key")
	// ErrCheckViolation mirrors the stock >= 0 check constraint.
	ErrCheckViolation = errors.New("memorydriver: check constraint violated: stock must not be negative")
	// ErrLockTimeout is returned when a row lock cannot be acquired in time.
	ErrLockTimeout = errors.New("memorydriver: lock wait timeout exceeded")
	// ErrClosed is returned once the store goroutine has stopped.
	ErrClosed = errors.New("memorydriver: store is closed")
)

type userRecord struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	ShopName     string    `json:"shop_name"`
	CreatedAt    time.Time `json:"created_at"`
}

type sessionRecord struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type supplierRecord struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email"`
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// productRecord keeps prices as decimal strings, the same text the SQL backends return.
type productRecord struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Name       string    `json:"name"`
	Barcode    string    `json:"barcode"`
	Category   string    `json:"category"`
	Price      string    `json:"price"`
	Stock      int64     `json:"stock"`
	SupplierID *int64    `json:"supplier_id,omitempty"`
	Deleted    bool      `json:"is_deleted"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type saleRecord struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ProductID   int64     `json:"product_id"`
	ProductName string    `json:"product_name"`
	Quantity    int64     `json:"quantity"`
	UnitPrice   string    `json:"unit_price"`
	TotalPrice  string    `json:"total_price"`
	Status      string    `json:"status"`
	BillID      string    `json:"bill_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// snapshot is the whole database; it is written to disk after each mutation so the driver survives restarts.
type snapshot struct {
	Users     []userRecord     `json:"users"`
	Sessions  []sessionRecord  `json:"sessions"`
	Suppliers []supplierRecord `json:"suppliers"`
	Products  []productRecord  `json:"products"`
	Sales     []saleRecord     `json:"sales"`
	Sequences map[string]int64 `json:"sequences"`
}

func (s *snapshot) next(table string) int64 {
	if s.Sequences == nil {
		s.Sequences = make(map[string]int64)
	}
	s.Sequences[table]++
	return s.Sequences[table]
}

func (s *snapshot) product(id int64) *productRecord {
	for i := range s.Products {
		if s.Products[i].ID == id {
			return &s.Products[i]
		}
	}
	return nil
}

func (s *snapshot) clone() snapshot {
	out := snapshot{
		Users:     append([]userRecord(nil), s.Users...),
		Sessions:  append([]sessionRecord(nil), s.Sessions...),
		Suppliers: append([]supplierRecord(nil), s.Suppliers...),
		Products:  make([]productRecord, len(s.Products)),
		Sales:     append([]saleRecord(nil), s.Sales...),
		Sequences: make(map[string]int64, len(s.Sequences)),
	}
	for i, p := range s.Products {
		out.Products[i] = p.clone()
	}
	for k, v := range s.Sequences {
		out.Sequences[k] = v
	}
	return out
}

func (p productRecord) clone() productRecord {
	if p.SupplierID != nil {
		id := *p.SupplierID
		p.SupplierID = &id
	}
	return p
}

// merge copies onto p the columns that changed between base and row.
func (p *productRecord) merge(base, row productRecord) {
	if row.Name != base.Name {
		p.Name = row.Name
	}
	if row.Barcode != base.Barcode {
		p.Barcode = row.Barcode
	}
	if row.Category != base.Category {
		p.Category = row.Category
	}
	if row.Price != base.Price {
		p.Price = row.Price
	}
	if row.Stock != base.Stock {
		p.Stock = row.Stock
	}
	if !sameRef(row.SupplierID, base.SupplierID) {
		p.SupplierID = row.clone().SupplierID
	}
	if row.Deleted != base.Deleted {
		p.Deleted = row.Deleted
	}
	if !row.UpdatedAt.Equal(base.UpdatedAt) {
		p.UpdatedAt = row.UpdatedAt
	}
}

func sameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// barcodeTaken mirrors the partial unique index on (user_id, barcode) over
// active products with a non-empty barcode.
func (s *snapshot) barcodeTaken(row productRecord) error {
	if row.Barcode == "" || row.Deleted {
		return nil
	}
	for _, p := range s.Products {
		if p.ID != row.ID && p.UserID == row.UserID && !p.Deleted && p.Barcode == row.Barcode {
			return ErrDuplicate
		}
	}
	return nil
}

// storeCommand is a unit of work executed on the store goroutine.
type storeCommand struct {
	op      func(st *snapshot) error
	persist bool
	reply   chan error
}

// store keeps the database guarded by a dedicated goroutine; row locks are
// plain channels so waiting for one never blocks that goroutine.
type store struct {
	commands        chan storeCommand
	closed          chan struct{}
	persistRequests chan snapshot
	done            chan struct{}
	state           snapshot
	locks           map[int64]chan struct{}
	lockTimeout     time.Duration
	snapshotPath    string
}

func newStore(path string, lockTimeout time.Duration) (*store, error) {
	loaded, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	s := &store{
		commands:        make(chan storeCommand),
		closed:          make(chan struct{}),
		persistRequests: make(chan snapshot, 1),
		done:            make(chan struct{}, 2),
		locks:           make(map[int64]chan struct{}),
		lockTimeout:     lockTimeout,
		snapshotPath:    path,
	}
	if loaded != nil {
		s.state = *loaded
	}
	go s.loop()
	go s.persistenceLoop()
	return s, nil
}

// loop serializes every read and mutation so the state needs no mutex.
func (s *store) loop() {
	defer func() { s.done <- struct{}{} }()
	for {
		select {
		case cmd := <-s.commands:
			err := cmd.op(&s.state)
			if err == nil && cmd.persist {
				s.queuePersist()
			}
			cmd.reply <- err
		case <-s.closed:
			return
		}
	}
}

// persistenceLoop writes snapshots asynchronously so the main loop stays responsive.
func (s *store) persistenceLoop() {
	defer func() { s.done <- struct{}{} }()
	for {
		select {
		case snap := <-s.persistRequests:
			_ = writeSnapshot(s.snapshotPath, snap)
		case <-s.closed:
			return
		}
	}
}

// queuePersist hands the latest state to the writer, replacing any snapshot still waiting.
// It must only be called from the store goroutine.
func (s *store) queuePersist() {
	if s.snapshotPath == "" {
		return
	}
	snap := s.state.clone()
	select {
	case s.persistRequests <- snap:
	default:
		select {
		case <-s.persistRequests:
		default:
		}
		s.persistRequests <- snap
	}
}

func (s *store) run(ctx context.Context, persist bool, op func(st *snapshot) error) error {
	reply := make(chan error, 1)
	select {
	case s.commands <- storeCommand{op: op, persist: persist, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closed:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.closed:
		return ErrClosed
	}
}

func (s *store) read(ctx context.Context, op func(st *snapshot) error) error {
	return s.run(ctx, false, op)
}

func (s *store) write(ctx context.Context, op func(st *snapshot) error) error {
	return s.run(ctx, true, op)
}

// acquire takes the exclusive lock on one product row, waiting at most lockTimeout.
func (s *store) acquire(ctx context.Context, id int64) (chan struct{}, error) {
	var lock chan struct{}
	err := s.read(ctx, func(*snapshot) error {
		lock = s.locks[id]
		if lock == nil {
			lock = make(chan struct{}, 1)
			s.locks[id] = lock
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()
	select {
	case lock <- struct{}{}:
		return lock, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, ErrLockTimeout
	case <-s.closed:
		return nil, ErrClosed
	}
}

func release(lock chan struct{}) {
	<-lock
}

// close flushes the final state to disk and stops both goroutines.
func (s *store) close() {
	var final snapshot
	err := s.read(context.Background(), func(st *snapshot) error {
		final = st.clone()
		return nil
	})
	close(s.closed)
	<-s.done
	<-s.done
	if err == nil && s.snapshotPath != "" {
		_ = writeSnapshot(s.snapshotPath, final)
	}
}

// readSnapshot loads the persisted JSON file if it exists.
func readSnapshot(path string) (*snapshot, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// writeSnapshot persists the state through a temp file and rename.
func writeSnapshot(path string, snap snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(temp, path)
}
