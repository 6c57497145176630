package wallet

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/gridtokenx/apigateway-core/pkg/audit"
	"github.com/gridtokenx/apigateway-core/pkg/config"
	"github.com/gridtokenx/apigateway-core/pkg/database"
)

func publicKeyOf(priv *ecdsa.PrivateKey) string {
	return crypto.PubkeyToAddress(priv.PublicKey).Hex()
}

// RotateAll/RollbackTo need a live users/encryption_keys schema to
// exercise their row-locking re-encryption loop, so these are skipped
// unless GATEWAYCORE_TEST_DB names a reachable database.
var testDB *sql.DB

func TestMain(m *testing.M) {
	connStr := os.Getenv("GATEWAYCORE_TEST_DB")
	if connStr == "" {
		os.Exit(m.Run())
	}
	var err error
	testDB, err = sql.Open("postgres", connStr)
	if err != nil {
		panic("connect test database: " + err.Error())
	}
	code := m.Run()
	testDB.Close()
	os.Exit(code)
}

func secretVersion0() []byte { return []byte("initial-master-secret-0123456789") }
func secretVersion1() []byte { return []byte("rotated-master-secret-abcdefghij") }

// TestRotationRoundTrip is Property 6: rotating a wallet to a new master
// secret and then rolling back to the original version must recover the
// exact original keypair.
func TestRotationRoundTrip(t *testing.T) {
	if testDB == nil {
		t.Skip("GATEWAYCORE_TEST_DB not configured")
	}
	ctx := context.Background()

	cfg := &config.Config{DatabaseURL: os.Getenv("GATEWAYCORE_TEST_DB"), DatabaseMaxConns: 5, DatabaseMinConns: 1}
	client, err := database.NewClient(cfg)
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer client.Close()

	hash0 := sha256.Sum256(secretVersion0())
	if _, err := testDB.ExecContext(ctx,
		`INSERT INTO encryption_keys (version, key_hash, is_active, activated_at) VALUES (0, $1, TRUE, now())`,
		hash0[:]); err != nil {
		t.Fatalf("seed key version 0: %v", err)
	}
	defer testDB.ExecContext(ctx, `DELETE FROM encryption_keys WHERE version IN (0, 1)`)

	users := database.NewUserRepository(client)
	keys := database.NewKeyVersionRepository(client)
	limits := database.NewWalletLimitRepository(client)
	auditRepo := database.NewAuditRepository(client)
	auditLog := audit.New(auditRepo, time.Second)
	defer auditLog.Close()

	resolver := func(version int) ([]byte, bool) {
		switch version {
		case 0:
			return secretVersion0(), true
		case 1:
			return secretVersion1(), true
		default:
			return nil, false
		}
	}

	custody := New(client, users, keys, limits, auditLog, resolver)

	u, err := users.Create(ctx, "rotation-"+uuid.New().String()+"@example.test", database.RoleUser)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	defer testDB.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, u.ID)

	originalPublicKey, err := custody.CreateWallet(ctx, u.ID)
	if err != nil {
		t.Fatalf("CreateWallet: %v", err)
	}

	if _, err := custody.RotateAll(ctx, secretVersion0(), secretVersion1(), 1); err != nil {
		t.Fatalf("RotateAll: %v", err)
	}

	rotatedKey, err := custody.LoadKeypair(ctx, u.ID)
	if err != nil {
		t.Fatalf("LoadKeypair after rotation: %v", err)
	}
	if got := publicKeyOf(rotatedKey); got != originalPublicKey {
		t.Fatalf("public key changed across rotation: got %s, want %s", got, originalPublicKey)
	}

	if _, err := custody.RollbackTo(ctx, secretVersion1(), secretVersion0(), 0); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	rolledBackKey, err := custody.LoadKeypair(ctx, u.ID)
	if err != nil {
		t.Fatalf("LoadKeypair after rollback: %v", err)
	}
	if got := publicKeyOf(rolledBackKey); got != originalPublicKey {
		t.Fatalf("public key changed across rollback: got %s, want %s", got, originalPublicKey)
	}
}
