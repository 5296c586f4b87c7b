// ABOUTME: Thread-safe resource catalog and credential store for the broker.
// ABOUTME: Handles capability matching, credential auto-linking, and masked listings.

package broker

import (
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
)

// DefaultTimeout bounds a single outbound call when Config.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Config contains construction options for a Broker.
type Config struct {
	// Resources is the catalog seed, in registration order.
	Resources []Resource

	// Timeout bounds each outbound call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Authenticators adds or overrides entries of DefaultAuthenticators.
	Authenticators map[string]Authenticator

	// HTTPClient is used for outbound calls. A fresh resty client is created when nil.
	HTTPClient *resty.Client

	Logger *slog.Logger
}

// Broker owns the resource catalog and the credential store.
type Broker struct {
	// mu guards resources, index, credentials and credentialOrder as one unit
	mu              sync.RWMutex
	resources       []*Resource
	index           map[string]*Resource
	credentials     map[string]*Credential
	credentialOrder []string

	auth    map[string]Authenticator
	http    *resty.Client
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a Broker from cfg. Resource ids must be unique and non-empty.
func New(cfg Config) (*Broker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	auth := DefaultAuthenticators()
	maps.Copy(auth, cfg.Authenticators)

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resty.New()
	}
	httpClient.
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "trellis-gateway/1.0").
		SetLogger(restyLogger{logger: logger.With("component", "broker-http")})

	b := &Broker{
		resources:   make([]*Resource, 0, len(cfg.Resources)),
		index:       make(map[string]*Resource, len(cfg.Resources)),
		credentials: make(map[string]*Credential),
		auth:        auth,
		http:        httpClient,
		timeout:     timeout,
		logger:      logger,
	}

	for i := range cfg.Resources {
		res := cfg.Resources[i].clone()
		if res.ID == "" {
			return nil, fmt.Errorf("resource at position %d has no id", i)
		}
		if _, exists := b.index[res.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateResource, res.ID)
		}
		if !res.Type.Valid() {
			return nil, fmt.Errorf("resource %s: unknown type %q", res.ID, res.Type)
		}
		res.CredentialID = ""
		b.resources = append(b.resources, &res)
		b.index[res.ID] = &res
	}

	logger.Info("broker catalog loaded", "resources", len(b.resources))
	return b, nil
}

// ListResources returns a view of every resource in catalog order.
func (b *Broker) ListResources() []ResourceInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]ResourceInfo, 0, len(b.resources))
	for _, res := range b.resources {
		infos = append(infos, b.infoLocked(res))
	}
	return infos
}

// Resource returns the view of a single resource.
func (b *Broker) Resource(id string) (ResourceInfo, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	res, ok := b.index[id]
	if !ok {
		return ResourceInfo{}, false
	}
	return b.infoLocked(res), true
}

// FindResource returns the first resource in catalog order matching q.
func (b *Broker) FindResource(q Query) (Resource, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, res := range b.resources {
		if b.matchesLocked(res, q) {
			return res.clone(), true
		}
	}
	return Resource{}, false
}

// FindAllResources returns every resource matching q, in catalog order.
// An unknown capability yields an empty result.
func (b *Broker) FindAllResources(q Query) []Resource {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matches []Resource
	for _, res := range b.resources {
		if b.matchesLocked(res, q) {
			matches = append(matches, res.clone())
		}
	}
	return matches
}

// AddCredentialResult reports what AddCredential stored and linked.
type AddCredentialResult struct {
	CredentialID    string   `json:"credentialId"`
	LinkedResources []string `json:"linkedResources"`
}

// AddCredential stores cred and links it to every resource of the same
// provider that has no credential yet. An empty ID is replaced by a generated
// one. Already-linked resources are never relinked.
func (b *Broker) AddCredential(cred Credential) (AddCredentialResult, error) {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.LastValidated.IsZero() {
		cred.LastValidated = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.credentials[cred.ID]; exists {
		return AddCredentialResult{}, fmt.Errorf("%w: %s", ErrDuplicateCredential, cred.ID)
	}

	// Insert before linking so no resource ever points at a missing credential.
	b.credentials[cred.ID] = &cred
	b.credentialOrder = append(b.credentialOrder, cred.ID)

	linked := []string{}
	for _, res := range b.resources {
		if res.Provider == cred.Provider && res.CredentialID == "" {
			res.CredentialID = cred.ID
			linked = append(linked, res.ID)
		}
	}

	b.logger.Info("credential added",
		"credential_id", cred.ID,
		"provider", cred.Provider,
		"linked_resources", linked,
	)

	return AddCredentialResult{CredentialID: cred.ID, LinkedResources: linked}, nil
}

// ListCredentials returns every stored credential in insertion order with
// its value masked. Empty values stay empty and are reported as missing.
func (b *Broker) ListCredentials() []CredentialInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	infos := make([]CredentialInfo, 0, len(b.credentialOrder))
	for _, id := range b.credentialOrder {
		cred := b.credentials[id]
		info := CredentialInfo{
			ID:            cred.ID,
			Name:          cred.Name,
			Provider:      cred.Provider,
			Type:          cred.Type,
			LastValidated: cred.LastValidated,
			Status:        CredentialStatusMissing,
		}
		if cred.Value != "" {
			info.Value = MaskedValue
			info.HasValue = true
			info.Status = CredentialStatusConfigured
		}
		infos = append(infos, info)
	}
	return infos
}

// matchesLocked applies the query rule. Caller must hold mu.
func (b *Broker) matchesLocked(res *Resource, q Query) bool {
	if !res.HasCapability(q.Capability) {
		return false
	}
	if q.Type != "" && res.Type != q.Type {
		return false
	}
	if q.Provider != "" && res.Provider != q.Provider {
		return false
	}
	if res.RequiresAuth && !b.hasValidCredentialLocked(res) {
		return false
	}
	return true
}

// hasValidCredentialLocked reports whether res links to a credential with a
// non-empty value. Caller must hold mu.
func (b *Broker) hasValidCredentialLocked(res *Resource) bool {
	_, ok := b.credentialLocked(res)
	return ok
}

// credentialLocked resolves the usable credential linked to res. Caller must hold mu.
func (b *Broker) credentialLocked(res *Resource) (Credential, bool) {
	if res.CredentialID == "" {
		return Credential{}, false
	}
	cred, ok := b.credentials[res.CredentialID]
	if !ok || cred.Value == "" {
		return Credential{}, false
	}
	return *cred, true
}

func (b *Broker) infoLocked(res *Resource) ResourceInfo {
	return ResourceInfo{
		ID:                 res.ID,
		Name:               res.Name,
		Type:               res.Type,
		Provider:           res.Provider,
		Capabilities:       append([]string(nil), res.Capabilities...),
		RequiresAuth:       res.RequiresAuth,
		HasValidCredential: b.hasValidCredentialLocked(res),
	}
}

// restyLogger routes resty's internal logging through slog.
type restyLogger struct {
	logger *slog.Logger
}

func (l restyLogger) Errorf(format string, v ...any) { l.logger.Error(fmt.Sprintf(format, v...)) }
func (l restyLogger) Warnf(format string, v ...any)  { l.logger.Warn(fmt.Sprintf(format, v...)) }
func (l restyLogger) Debugf(format string, v ...any) { l.logger.Debug(fmt.Sprintf(format, v...)) }
