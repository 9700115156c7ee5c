/*
Package mesh implements the link handshake between devices (initiator and
acceptor roles) and the reconciler that renders the local broker's leafnode
configuration from whatever links are currently persisted.
*/
package mesh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nkeys"

	"github.com/oats-center/avena/pkg/broker"
	"github.com/oats-center/avena/pkg/hlc"
	"github.com/oats-center/avena/pkg/identity"
	"github.com/oats-center/avena/pkg/jwtauth"
	"github.com/oats-center/avena/pkg/kv"
	"github.com/oats-center/avena/pkg/log"
	"github.com/oats-center/avena/pkg/meshconfig"
	"github.com/oats-center/avena/pkg/messages"
	"github.com/oats-center/avena/pkg/metrics"
)

const linkKeyPrefix = "link:"

func linkKey(url string) string { return linkKeyPrefix + url }

// Initiator drives the outbound handshake for one remote device. A fresh
// client connection to the remote's URL is opened per attempt and closed
// when the handshake completes.
type Initiator struct {
	Identity  *identity.Identity
	LinksDir  string // <data_dir>/links, where received creds are written
	Store     *kv.Store
	Reconcile func(ctx context.Context) error
}

// Link performs the initiator sequence against remoteURL: connect, offer,
// verify the accept, persist the creds and link entry, then trigger
// reconciliation. It reports whether the handshake succeeded.
func (in *Initiator) Link(ctx context.Context, remoteURL string) (bool, error) {
	logger := log.WithComponent("mesh")

	nc, err := broker.Connect(broker.DefaultOptions(remoteURL, "link-initiator"))
	if err != nil {
		return false, fmt.Errorf("mesh: connect to %s: %w", remoteURL, err)
	}
	defer nc.Close()

	nonce := uuid.NewString()
	signed := nonce + "|" + in.Identity.ID
	sig, err := in.Identity.Sign([]byte(signed))
	if err != nil {
		return false, fmt.Errorf("mesh: sign offer: %w", err)
	}

	var token *string
	if in.Identity.NetworkToken != "" {
		t := in.Identity.NetworkToken
		token = &t
	}
	offer := messages.LinkOffer{
		FromID:     in.Identity.ID,
		FromPubKey: in.Identity.PubKey,
		Nonce:      nonce,
		LeafURL:    "",
		Signature:  sig,
		Token:      token,
	}
	data, err := offer.Encode()
	if err != nil {
		return false, fmt.Errorf("mesh: encode offer: %w", err)
	}

	msg, err := nc.RequestWithContext(ctx, messages.LinkOfferSubject, data)
	if err != nil {
		return false, fmt.Errorf("mesh: offer request: %w", err)
	}

	accept, err := messages.DecodeLinkAccept(msg.Data)
	if err != nil {
		return false, nil
	}
	if accept.NonceResponse != nonce {
		logger.Warn().Str("remote", remoteURL).Msg("link accept nonce mismatch")
		return false, nil
	}
	if !identity.Verify(accept.ToPubKey, []byte("ACCEPT|"+nonce), accept.Signature) {
		logger.Warn().Str("remote", remoteURL).Msg("link accept signature invalid")
		return false, nil
	}

	if accept.CredsInline == nil {
		logger.Warn().Str("remote", remoteURL).Msg("link accept carried no credentials")
		return false, nil
	}

	if err := os.MkdirAll(in.LinksDir, 0o755); err != nil {
		return false, fmt.Errorf("mesh: create links dir: %w", err)
	}
	credsPath := filepath.Join(in.LinksDir, accept.ToID+".creds")
	if err := writeAtomic(credsPath, []byte(*accept.CredsInline)); err != nil {
		return false, fmt.Errorf("mesh: write creds: %w", err)
	}

	path := credsPath
	entry := messages.LinkEntry{URL: remoteURL, CredsPath: &path}
	entryData, err := entry.Encode()
	if err != nil {
		return false, fmt.Errorf("mesh: encode link entry: %w", err)
	}
	if _, err := in.Store.Put(linkKey(remoteURL), entryData); err != nil {
		return false, fmt.Errorf("mesh: persist link entry: %w", err)
	}

	if in.Reconcile != nil {
		if err := in.Reconcile(ctx); err != nil {
			logger.Warn().Err(err).Msg("post-link reconciliation failed")
		}
	}

	return true, nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Acceptor answers incoming link offers on the standing subscription.
type Acceptor struct {
	NC             *nats.Conn
	Clock          *hlc.Clock
	Identity       *identity.Identity
	Store          *kv.Store
	JWTManager     *jwtauth.Manager
	AvenaAccountKP nkeys.KeyPair
	CredsDir       string
	LeafURL        string
}

// Start subscribes to the link offer subject.
func (ac *Acceptor) Start() (*nats.Subscription, error) {
	logger := log.WithComponent("mesh")
	return ac.NC.Subscribe(messages.LinkOfferSubject, func(msg *nats.Msg) {
		if msg.Reply == "" {
			return
		}
		if msg.Header != nil {
			ac.Clock.MergeFromHeader(msg.Header)
		}

		offer, err := messages.DecodeLinkOffer(msg.Data)
		if err != nil {
			logger.Debug().Err(err).Msg("ignoring malformed link offer")
			return
		}

		signed := offer.Nonce + "|" + offer.FromID
		ok := identity.Verify(offer.FromPubKey, []byte(signed), offer.Signature)
		if ok && ac.Identity.NetworkToken != "" {
			ok = offer.Token != nil && *offer.Token == ac.Identity.NetworkToken
		}

		if !ok {
			logger.Warn().Str("from", offer.FromID).Msg("rejecting link offer")
			return
		}

		creds, credsPath, err := jwtauth.GenerateLeafUserCreds(ac.JWTManager, ac.AvenaAccountKP, offer.FromID, ac.CredsDir)
		if err != nil {
			logger.Error().Err(err).Msg("failed to mint leaf credentials")
			return
		}

		path := credsPath
		entry := messages.LinkEntry{URL: ac.LeafURL, CredsPath: &path}
		entryData, err := entry.Encode()
		if err == nil {
			if _, err := ac.Store.Put(linkKey(ac.LeafURL), entryData); err != nil {
				logger.Warn().Err(err).Msg("failed to persist accepted link entry")
			}
		}

		respSig, err := ac.Identity.Sign([]byte("ACCEPT|" + offer.Nonce))
		if err != nil {
			logger.Error().Err(err).Msg("failed to sign accept")
			return
		}

		var token *string
		if ac.Identity.NetworkToken != "" {
			t := ac.Identity.NetworkToken
			token = &t
		}
		accept := messages.LinkAccept{
			ToID:          ac.Identity.ID,
			ToPubKey:      ac.Identity.PubKey,
			NonceResponse: offer.Nonce,
			LeafURL:       ac.LeafURL,
			CredsInline:   &creds,
			Signature:     respSig,
			Token:         token,
		}
		respData, err := accept.Encode()
		if err != nil {
			logger.Error().Err(err).Msg("failed to encode accept")
			return
		}

		hdr := make(nats.Header)
		ac.Clock.AttachHeader(hdr)
		reply := &nats.Msg{Subject: msg.Reply, Header: hdr, Data: respData}
		if err := ac.NC.PublishMsg(reply); err != nil {
			logger.Warn().Err(err).Msg("failed to publish link accept")
		}
	})
}

// Reconciler renders and reloads the broker's leafnode configuration from
// the set of currently persisted link:* KV entries. Reconcile may be called
// concurrently from the register and unregister handlers; mu serializes
// those calls so two link mutations can never interleave a partial render.
type Reconciler struct {
	Store         *kv.Store
	NatsCfgDir    string
	ConfigDir     string
	NatsURL       string
	SysAdminCreds string

	mu sync.Mutex
}

// Reconcile snapshots all persisted links, re-renders server.conf, and
// triggers a broker config reload.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.MeshReconciliationDuration)
	metrics.MeshReconciliationCyclesTotal.Inc()

	keys, err := r.Store.KeysWithPrefix(linkKeyPrefix)
	if err != nil {
		return fmt.Errorf("mesh: list link keys: %w", err)
	}

	remotes := make([]meshconfig.LeafRemote, 0, len(keys))
	for _, key := range keys {
		val, err := r.Store.Get(key)
		if err != nil {
			continue
		}
		entry, err := messages.DecodeLinkEntry(val)
		if err != nil {
			continue
		}
		credsPath := ""
		if entry.CredsPath != nil {
			credsPath = *entry.CredsPath
		}
		remotes = append(remotes, meshconfig.LeafRemote{URL: entry.URL, CredsPath: credsPath})
	}

	if err := meshconfig.RenderAndWrite(r.NatsCfgDir, r.ConfigDir, remotes); err != nil {
		return fmt.Errorf("mesh: render broker config: %w", err)
	}
	if err := meshconfig.Reload(r.NatsURL, r.SysAdminCreds); err != nil {
		return fmt.Errorf("mesh: reload broker: %w", err)
	}
	return nil
}

// RegisterHandler answers administrative link-register requests by driving
// the initiator sequence against the requested remote URL.
type RegisterHandler struct {
	NC        *nats.Conn
	Clock     *hlc.Clock
	Initiator *Initiator
}

// Start subscribes to the link register subject.
func (h *RegisterHandler) Start(ctx context.Context) (*nats.Subscription, error) {
	logger := log.WithComponent("mesh")
	return h.NC.Subscribe(messages.LinkRegisterSubject, func(msg *nats.Msg) {
		if msg.Header != nil {
			h.Clock.MergeFromHeader(msg.Header)
		}
		if msg.Reply == "" {
			return
		}

		var resp messages.LinkRegisterResponse
		req, err := messages.DecodeLinkRegisterRequest(msg.Data)
		if err != nil {
			resp = messages.LinkRegisterResponse{OK: false, Message: err.Error()}
		} else {
			ok, linkErr := h.Initiator.Link(ctx, req.RemoteURL)
			if linkErr != nil {
				logger.Error().Err(linkErr).Str("remote", req.RemoteURL).Msg("link register failed")
			}
			if ok {
				resp = messages.LinkRegisterResponse{OK: true, Message: "stored link request"}
			} else {
				resp = messages.LinkRegisterResponse{OK: false, Message: "link offer failed"}
			}
		}

		data, err := resp.Encode()
		if err != nil {
			return
		}
		hdr := make(nats.Header)
		h.Clock.AttachHeader(hdr)
		h.NC.PublishMsg(&nats.Msg{Subject: msg.Reply, Header: hdr, Data: data})
	})
}

// UnregisterHandler answers administrative link-unregister requests by
// removing the link:<remote_url> entry and triggering reconciliation.
type UnregisterHandler struct {
	NC        *nats.Conn
	Clock     *hlc.Clock
	Store     *kv.Store
	Reconcile func(ctx context.Context) error
}

// Start subscribes to the link unregister subject.
func (h *UnregisterHandler) Start(ctx context.Context) (*nats.Subscription, error) {
	logger := log.WithComponent("mesh")
	return h.NC.Subscribe(messages.LinkUnregisterSubject, func(msg *nats.Msg) {
		if msg.Header != nil {
			h.Clock.MergeFromHeader(msg.Header)
		}
		if msg.Reply == "" {
			return
		}

		req, err := messages.DecodeLinkUnregisterRequest(msg.Data)
		var resp messages.LinkUnregisterResponse
		if err != nil {
			resp = messages.LinkUnregisterResponse{OK: false, Message: err.Error()}
		} else {
			key := linkKey(req.RemoteURL)
			existed, _ := h.Store.Exists(key)
			if existed {
				if err := h.Store.Delete(key); err != nil {
					logger.Warn().Err(err).Str("remote", req.RemoteURL).Msg("failed to delete link entry")
				}
				if h.Reconcile != nil {
					if err := h.Reconcile(ctx); err != nil {
						logger.Warn().Err(err).Msg("post-unlink reconciliation failed")
					}
				}
				resp = messages.LinkUnregisterResponse{OK: true, Message: "removed link to " + req.RemoteURL}
			} else {
				resp = messages.LinkUnregisterResponse{OK: false, Message: "no link found for " + req.RemoteURL}
			}
		}

		data, err := resp.Encode()
		if err != nil {
			return
		}
		hdr := make(nats.Header)
		h.Clock.AttachHeader(hdr)
		h.NC.PublishMsg(&nats.Msg{Subject: msg.Reply, Header: hdr, Data: data})
	})
}
