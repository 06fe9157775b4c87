// Package testutil holds fixtures shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/mansoorceksport/paywall/internal/domain"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SetupTestDB spins up a fresh MongoDB container and returns the database connection
// along with a cleanup function.
func SetupTestDB(t *testing.T) (*mongo.Database, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}

	ctx := context.Background()

	mongodbContainer, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Fatalf("failed to start container: %s", err)
	}

	endpoint, err := mongodbContainer.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get connection string: %s", err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(endpoint))
	if err != nil {
		t.Fatalf("failed to connect to mongo: %v", err)
	}

	return mongoClient.Database("paywall_test"), func() {
		if err := mongoClient.Disconnect(ctx); err != nil {
			log.Printf("failed to disconnect mongo: %v", err)
		}
		if err := mongodbContainer.Terminate(ctx); err != nil {
			log.Printf("failed to terminate container: %v", err)
		}
	}
}

// MockAuthClient verifies a fixed set of ID tokens.
type MockAuthClient struct {
	mu          sync.RWMutex
	validTokens map[string]*auth.Token
}

func NewMockAuthClient() *MockAuthClient {
	return &MockAuthClient{
		validTokens: make(map[string]*auth.Token),
	}
}

func (m *MockAuthClient) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if token, ok := m.validTokens[idToken]; ok {
		return token, nil
	}
	return nil, fmt.Errorf("invalid mock token")
}

// AddMockUser registers tokenString as a valid token for uid.
func (m *MockAuthClient) AddMockUser(tokenString, uid, email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validTokens[tokenString] = &auth.Token{
		UID: uid,
		Claims: map[string]interface{}{
			"email": email,
		},
	}
}

// MemoryProfiles is an in-memory domain.ProfileRepository with the same
// merge rules as the Mongo store.
type MemoryProfiles struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
	updates  int

	// Err, when set, is returned by UpdateBilling.
	Err error
}

func NewMemoryProfiles() *MemoryProfiles {
	return &MemoryProfiles{profiles: make(map[string]domain.Profile)}
}

func (m *MemoryProfiles) GetByUserID(_ context.Context, userID string) (*domain.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (m *MemoryProfiles) UpdateBilling(_ context.Context, userID string, update domain.BillingUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.updates++

	p, ok := m.profiles[userID]
	if !ok {
		p = domain.Profile{UserID: userID, Tier: domain.TierFree}
	}
	if update.Tier != "" {
		p.Tier = update.Tier
	}
	if update.Plan != "" {
		p.Plan = update.Plan
	}
	if update.Status != "" {
		p.Status = update.Status
	}
	if update.Email != "" {
		p.Email = update.Email
	}
	if update.CustomerID != "" {
		p.CustomerID = update.CustomerID
	}
	if update.SubscriptionID != "" {
		p.SubscriptionID = update.SubscriptionID
	}
	if update.CurrentPeriodEnd != nil {
		end := update.CurrentPeriodEnd.UTC()
		p.CurrentPeriodEnd = &end
	}
	p.CancelAtPeriodEnd = update.CancelAtPeriodEnd
	p.UpdatedAt = time.Now().UTC()
	m.profiles[userID] = p
	return nil
}

// Put stores p as is.
func (m *MemoryProfiles) Put(p domain.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
}

// Updates reports how many UpdateBilling calls succeeded.
func (m *MemoryProfiles) Updates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

// RecordingNotifier keeps every confirmation it is asked to send.
type RecordingNotifier struct {
	mu   sync.Mutex
	sent []domain.PurchaseConfirmation
	Err  error
}

func (n *RecordingNotifier) SendPurchaseConfirmation(_ context.Context, msg domain.PurchaseConfirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, msg)
	return nil
}

// Sent returns a copy of the recorded confirmations.
func (n *RecordingNotifier) Sent() []domain.PurchaseConfirmation {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]domain.PurchaseConfirmation(nil), n.sent...)
}
