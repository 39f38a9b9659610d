// Package secretsctx implements the redesigned secrets model from spec §9:
// "all secrets required by adapters are loaded once per process, ... and
// immutable for the process lifetime", expressed as an initialized value
// threaded through constructors rather than process-global state.
package secretsctx

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	vaultapi "github.com/hashicorp/vault/api"
)

// Backend names the configured secrets_backend (spec §6).
type Backend string

const (
	BackendEnv   Backend = "env"
	BackendVault Backend = "vault"
)

// Config selects and configures a Backend.
type Config struct {
	Backend     Backend
	VaultAddr   string
	VaultRoleID string
	VaultSecretID string
	SkipVerify  bool
}

// Context is the immutable, process-lifetime secrets value. Construct one
// with Load at startup and pass it explicitly to every constructor that
// needs credential material (platform adapter clients, SSH keys, the
// registry's encryption key) — never read it from a package-level global.
type Context struct {
	backend Backend
	env     map[string]string // snapshotted at Load time
	vault   *vaultapi.Client
	mu      sync.Mutex
	cache   map[string]string
}

// Load resolves and authenticates the configured backend exactly once. For
// BackendVault it performs the AppRole login immediately so that any later
// failure to reach Vault surfaces at startup, not mid-deployment.
func Load(ctx context.Context, cfg Config) (*Context, error) {
	sc := &Context{backend: cfg.Backend, cache: make(map[string]string)}
	switch cfg.Backend {
	case "", BackendEnv:
		sc.backend = BackendEnv
		sc.env = snapshotEnv()
		return sc, nil
	case BackendVault:
		vcfg := vaultapi.DefaultConfig()
		vcfg.Address = cfg.VaultAddr
		if cfg.SkipVerify {
			if err := vcfg.ConfigureTLS(&vaultapi.TLSConfig{Insecure: true}); err != nil {
				return nil, fmt.Errorf("configure vault tls: %w", err)
			}
		}
		client, err := vaultapi.NewClient(vcfg)
		if err != nil {
			return nil, fmt.Errorf("new vault client: %w", err)
		}
		secret, err := client.Logical().WriteWithContext(ctx, "auth/approle/login", map[string]any{
			"role_id":   cfg.VaultRoleID,
			"secret_id": cfg.VaultSecretID,
		})
		if err != nil {
			return nil, fmt.Errorf("vault approle login: %w", err)
		}
		if secret == nil || secret.Auth == nil {
			return nil, fmt.Errorf("vault approle login: empty auth response")
		}
		client.SetToken(secret.Auth.ClientToken)
		sc.vault = client
		return sc, nil
	default:
		return nil, fmt.Errorf("unknown secrets_backend %q", cfg.Backend)
	}
}

func snapshotEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			out[parts[0]] = parts[1]
		}
	}
	return out
}

// Get resolves key from the configured backend. For Vault, path is the KV
// path and key the field within it ("path#field"); for env, path is used
// directly as the variable name.
func (sc *Context) Get(ctx context.Context, path string) (string, error) {
	if sc == nil {
		return "", fmt.Errorf("secrets context not initialized")
	}
	switch sc.backend {
	case BackendEnv:
		v, ok := sc.env[path]
		if !ok {
			return "", fmt.Errorf("secret %q not set in environment", path)
		}
		return v, nil
	case BackendVault:
		sc.mu.Lock()
		if v, ok := sc.cache[path]; ok {
			sc.mu.Unlock()
			return v, nil
		}
		sc.mu.Unlock()

		vpath, field, ok := strings.Cut(path, "#")
		if !ok {
			return "", fmt.Errorf("vault secret reference %q must be path#field", path)
		}
		secret, err := sc.vault.Logical().ReadWithContext(ctx, vpath)
		if err != nil {
			return "", fmt.Errorf("read vault secret %s: %w", vpath, err)
		}
		if secret == nil || secret.Data == nil {
			return "", fmt.Errorf("vault secret %s not found", vpath)
		}
		raw, ok := secret.Data[field]
		if !ok {
			return "", fmt.Errorf("vault secret %s missing field %s", vpath, field)
		}
		v, ok := raw.(string)
		if !ok {
			return "", fmt.Errorf("vault secret %s field %s is not a string", vpath, field)
		}
		sc.mu.Lock()
		sc.cache[path] = v
		sc.mu.Unlock()
		return v, nil
	default:
		return "", fmt.Errorf("secrets context not initialized")
	}
}
