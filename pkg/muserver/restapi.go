package muserver

import (
	"encoding/hex"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/function61/gokit/cryptorandombytes"
	"github.com/function61/gokit/logex"
	"github.com/gorilla/mux"
	"github.com/muisto-app/muisto/pkg/logtee"
	"github.com/muisto-app/muisto/pkg/muconnection"
	"github.com/muisto-app/muisto/pkg/mudb"
	"github.com/muisto-app/muisto/pkg/muprovider"
	"github.com/muisto-app/muisto/pkg/musync"
	"github.com/muisto-app/muisto/pkg/mutypes"
	"github.com/samber/lo"
	"go.etcd.io/bbolt"
)

type restHandlers struct {
	scf         *ServerConfigFile
	db          *bbolt.DB
	connections *muconnection.Store
	engine      *musync.Engine
	logTail     *logtee.StringTail
	rawLogger   *log.Logger
	logl        *logex.Leveled
}

func defineRestApi(
	router *mux.Router,
	scf *ServerConfigFile,
	db *bbolt.DB,
	connections *muconnection.Store,
	engine *musync.Engine,
	logTail *logtee.StringTail,
	logger *log.Logger,
) {
	han := &restHandlers{scf, db, connections, engine, logTail, logger, logex.Levels(logger)}

	router.HandleFunc("/api/status", han.getStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/sync/now", han.syncNow).Methods(http.MethodPost)
	router.HandleFunc("/api/online", han.setOnline).Methods(http.MethodPost)

	router.HandleFunc("/api/connections", han.listConnections).Methods(http.MethodGet)
	router.HandleFunc("/api/connections", han.createConnection).Methods(http.MethodPost)
	router.HandleFunc("/api/connections/{id}", han.removeConnection).Methods(http.MethodDelete)
	router.HandleFunc("/api/connections/{id}/default", han.makeDefault).Methods(http.MethodPost)

	router.HandleFunc("/api/queue", han.listQueue).Methods(http.MethodGet)
	router.HandleFunc("/api/queue/{id}/retry", han.retryItem).Methods(http.MethodPost)

	router.HandleFunc("/oauth/start", han.oauthStart).Methods(http.MethodGet)
	router.HandleFunc("/oauth/callback", han.oauthCallback).Methods(http.MethodGet)
}

// exported because the CLI client deserializes into these
type StatusResponse struct {
	Status      mutypes.SyncStatus   `json:"status"`
	Online      bool                 `json:"online"`
	Connections []ConnectionSummary  `json:"connections"`
	QueueDepth  int                  `json:"queue_depth"`
	LogTail     []string             `json:"log_tail"`
}

type ConnectionSummary struct {
	ID         string               `json:"id"`
	Kind       mutypes.ProviderKind `json:"kind"`
	Default    bool                 `json:"default"`
	Connected  bool                 `json:"connected"`
	LastError  string               `json:"last_error,omitempty"`
	LastSyncAt time.Time            `json:"last_sync_at"`
}

func (h *restHandlers) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.OverallStatus()
	if err != nil {
		httpError(w, err)
		return
	}

	connections, err := h.connections.ListByUser(h.scf.UserID)
	if err != nil {
		httpError(w, err)
		return
	}

	summaries := lo.Map(connections, func(conn mutypes.Connection, _ int) ConnectionSummary {
		return ConnectionSummary{
			ID:         conn.ID,
			Kind:       conn.Kind,
			Default:    conn.Default,
			Connected:  conn.Connected,
			LastError:  conn.LastError,
			LastSyncAt: conn.LastSyncAt,
		}
	})

	items, err := h.engine.Queue().All()
	if err != nil {
		httpError(w, err)
		return
	}

	depth := lo.CountBy(items, func(item mutypes.SyncQueueItem) bool {
		return !item.Terminal()
	})

	outJSON(w, &StatusResponse{
		Status:      status,
		Online:      h.engine.Online(),
		Connections: summaries,
		QueueDepth:  depth,
		LogTail:     h.logTail.Snapshot(),
	})
}

func (h *restHandlers) syncNow(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.SyncNow(r.Context()); err != nil {
		httpError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// connectivity signal from whatever platform layer watches the network
func (h *restHandlers) setOnline(w http.ResponseWriter, r *http.Request) {
	req := struct {
		Online bool `json:"online"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.engine.SetOnline(req.Online)

	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandlers) listConnections(w http.ResponseWriter, r *http.Request) {
	connections, err := h.connections.ListByUser(h.scf.UserID)
	if err != nil {
		httpError(w, err)
		return
	}

	outJSON(w, connections)
}

type createConnectionRequest struct {
	Kind        mutypes.ProviderKind       `json:"kind"`
	Credentials *mutypes.StaticCredentials `json:"credentials"`
	SyncRoot    string                     `json:"sync_root"`
	Default     bool                       `json:"default"`
}

// credential-family connections are created directly. OAuth-family ones go through
// /oauth/start + /oauth/callback instead
func (h *restHandlers) createConnection(w http.ResponseWriter, r *http.Request) {
	req := &createConnectionRequest{}
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.Kind.OAuthFamily() {
		http.Error(w, "OAuth-family connections are established via /oauth/start", http.StatusBadRequest)
		return
	}

	conn := &mutypes.Connection{
		ID:          cryptorandombytes.Base64UrlWithoutLeadingDash(8),
		UserID:      h.scf.UserID,
		Kind:        req.Kind,
		Credentials: req.Credentials,
		SyncRoot:    orDefaultSyncRoot(req.SyncRoot),
		Default:     req.Default,
	}

	// reach the backend once before persisting, so a typo'd secret surfaces now
	prov, err := muprovider.ForConnection(conn, h.oauthApp(), h.logger("provider"))
	if err != nil {
		httpError(w, err)
		return
	}

	if err := prov.TestConnection(r.Context()); err != nil {
		httpError(w, err)
		return
	}

	conn.Connected = true

	if err := h.connections.Save(conn); err != nil {
		httpError(w, err)
		return
	}

	outJSON(w, conn)
}

func (h *restHandlers) removeConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.connections.Remove(mux.Vars(r)["id"]); err != nil {
		httpError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandlers) makeDefault(w http.ResponseWriter, r *http.Request) {
	conn, err := h.connections.ByID(mux.Vars(r)["id"])
	if err != nil {
		httpError(w, err)
		return
	}

	conn.Default = true

	if err := h.connections.Save(conn); err != nil {
		httpError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *restHandlers) listQueue(w http.ResponseWriter, r *http.Request) {
	items, err := h.engine.Queue().All()
	if err != nil {
		httpError(w, err)
		return
	}

	outJSON(w, items)
}

// manual revival of a terminal item
func (h *restHandlers) retryItem(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.Queue().ResetForRetry(mux.Vars(r)["id"]); err != nil {
		httpError(w, err)
		return
	}

	h.engine.FocusLost() // reuse the fire-and-forget drain kick

	w.WriteHeader(http.StatusNoContent)
}

// begins the OAuth dance: hands the browser off to the provider's consent screen
// with a signed state token tying the eventual callback back to us
func (h *restHandlers) oauthStart(w http.ResponseWriter, r *http.Request) {
	kind := mutypes.ProviderKind(r.URL.Query().Get("kind"))
	if !kind.OAuthFamily() {
		http.Error(w, "kind is not an OAuth-family provider", http.StatusBadRequest)
		return
	}

	prov, err := muprovider.ForConnection(&mutypes.Connection{Kind: kind}, h.oauthApp(), h.logger("provider"))
	if err != nil {
		httpError(w, err)
		return
	}

	stateKey, err := h.oauthStateKey()
	if err != nil {
		httpError(w, err)
		return
	}

	state, err := muconnection.SignState(
		muconnection.NewStateClaims(h.scf.UserID, "", kind, time.Now()),
		stateKey)
	if err != nil {
		httpError(w, err)
		return
	}

	authURL, err := prov.AuthorizationURL(h.scf.OAuthRedirectURL, state)
	if err != nil {
		httpError(w, err)
		return
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *restHandlers) oauthCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		http.Error(w, "authorization denied: "+errCode, http.StatusForbidden)
		return
	}

	stateKey, err := h.oauthStateKey()
	if err != nil {
		httpError(w, err)
		return
	}

	claims, err := muconnection.VerifyState(query.Get("state"), stateKey, time.Now())
	if err != nil {
		httpError(w, err)
		return
	}

	prov, err := muprovider.ForConnection(&mutypes.Connection{Kind: claims.Kind}, h.oauthApp(), h.logger("provider"))
	if err != nil {
		httpError(w, err)
		return
	}

	tokens, err := prov.ExchangeCode(r.Context(), query.Get("code"), h.scf.OAuthRedirectURL)
	if err != nil {
		httpError(w, err)
		return
	}

	conn := &mutypes.Connection{
		ID:        claims.ConnectionID,
		UserID:    claims.UserID,
		Kind:      claims.Kind,
		Tokens:    tokens,
		SyncRoot:  orDefaultSyncRoot(""),
		Connected: true,
	}

	if conn.ID == "" { // establishing a new connection (vs. re-authorizing)
		conn.ID = cryptorandombytes.Base64UrlWithoutLeadingDash(8)

		existing, err := h.connections.ListByUser(claims.UserID)
		if err != nil {
			httpError(w, err)
			return
		}

		conn.Default = len(existing) == 0 // first connection becomes the default
	} else {
		previous, err := h.connections.ByID(conn.ID)
		if err != nil {
			httpError(w, err)
			return
		}

		previous.Tokens = tokens
		previous.Connected = true
		previous.LastError = ""
		conn = previous
	}

	if err := h.connections.Save(conn); err != nil {
		httpError(w, err)
		return
	}

	h.logl.Info.Printf("connection %s (%s) authorized", conn.ID, conn.Kind)

	outJSON(w, conn)
}

func (h *restHandlers) oauthApp() muprovider.OAuthAppConfig {
	return muprovider.OAuthAppConfig{
		GoogleClientID:     h.scf.GoogleClientID,
		GoogleClientSecret: h.scf.GoogleClientSecret,
	}
}

func (h *restHandlers) oauthStateKey() ([]byte, error) {
	tx, err := h.db.Begin(false)
	if err != nil {
		return nil, mutypes.StorageUnavailablef("state key: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	keyHex, err := mudb.CfgOAuthStateKey.GetRequired(tx)
	if err != nil {
		return nil, err
	}

	return hex.DecodeString(keyHex)
}

func (h *restHandlers) logger(prefix string) *log.Logger {
	return logex.Prefix(prefix, h.rawLogger)
}

func orDefaultSyncRoot(syncRoot string) string {
	if syncRoot == "" {
		return "/Apps/muisto"
	}

	return syncRoot
}

func outJSON(w http.ResponseWriter, out interface{}) {
	w.Header().Set("Content-Type", "application/json")

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	_ = encoder.Encode(out)
}

// maps taxonomy kinds onto HTTP statuses
func httpError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	switch mutypes.KindOf(err) {
	case mutypes.ErrorNotFound:
		status = http.StatusNotFound
	case mutypes.ErrorAuth:
		status = http.StatusForbidden
	case mutypes.ErrorConfiguration:
		status = http.StatusBadRequest
	case mutypes.ErrorConflict:
		status = http.StatusConflict
	case mutypes.ErrorStorageUnavailable:
		status = http.StatusServiceUnavailable
	}

	http.Error(w, err.Error(), status)
}
