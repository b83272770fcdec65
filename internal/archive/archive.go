// Package archive implements the Archiver: before Store.Expire deletes
// packets past the retention cutoff, it bundles them as newline-
// delimited JSON and seeds the bundle over BitTorrent so sibling
// meshwatchd instances can still fetch data the live database has
// dropped.
//
// Grounded in github.com/gg-glitch-88/meshigo-kore's ydin/replication.go
// (peer registry + content policy over a content-addressed "files"
// table) and that teacher's files DDL in ydin/store.go, which already
// names a BitTorrent info-hash column but never wires a torrent
// client. This is that wiring, via github.com/anacrolix/torrent.
package archive

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	"go.uber.org/zap"

	"github.com/meshcommons/meshwatchd/internal/store"
)

// Config configures where bundles live (ARCHIVE_DIR) and which sibling
// instances to seed them to (ARCHIVE_PEERS).
type Config struct {
	Dir   string
	Peers []string // host:port of sibling meshwatchd archivers
}

// Archiver owns one torrent.Client and seeds every bundle it writes.
type Archiver struct {
	cfg    Config
	client *torrent.Client
	log    *zap.Logger
}

// bundleRecord is one line of the NDJSON archive file.
type bundleRecord struct {
	Packet  store.Packet        `json:"packet"`
	Relays  []store.GatewayRelay `json:"relays"`
}

// New starts a torrent client rooted at cfg.Dir. The client seeds
// only to the configured peer list; it runs without DHT or public
// trackers since archive bundles are private to a deployment.
func New(cfg Config, log *zap.Logger) (*Archiver, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create dir: %w", err)
	}

	tc := torrent.NewDefaultClientConfig()
	tc.DataDir = cfg.Dir
	tc.Seed = true
	tc.NoDHT = true
	tc.DisableTrackers = true
	tc.ListenPort = 0 // ephemeral; peers are dialed explicitly, not discovered

	cl, err := torrent.NewClient(tc)
	if err != nil {
		return nil, fmt.Errorf("archive: new torrent client: %w", err)
	}
	return &Archiver{cfg: cfg, client: cl, log: log}, nil
}

// Close shuts down the torrent client.
func (a *Archiver) Close() error {
	errs := a.client.Close()
	if len(errs) > 0 {
		return fmt.Errorf("archive: close: %v", errs)
	}
	return nil
}

// Archive implements store.ArchiveFunc: it writes one NDJSON bundle,
// builds a single-file torrent for it, and seeds it to the configured
// peers. Returning ("", nil) for an empty input is not reachable here
// since Store.Expire only calls archive when len(packets) > 0.
func (a *Archiver) Archive(ctx context.Context, packets []store.Packet, relays []store.GatewayRelay) (string, error) {
	byPacket := make(map[int64][]store.GatewayRelay, len(packets))
	for _, r := range relays {
		byPacket[r.PacketID] = append(byPacket[r.PacketID], r)
	}

	name := fmt.Sprintf("meshwatchd-archive-%d.ndjson", time.Now().UTC().UnixNano())
	path := filepath.Join(a.cfg.Dir, name)

	if err := writeBundle(path, packets, byPacket); err != nil {
		return "", fmt.Errorf("archive: write bundle: %w", err)
	}

	infoHash, err := a.seed(path)
	if err != nil {
		// The bundle file stays on disk even if seeding fails; nothing
		// in this package reseeds it later.
		a.log.Warn("archive: seed failed, bundle kept on disk", zap.String("file", path), zap.Error(err))
		return "", err
	}
	return infoHash, nil
}

func writeBundle(path string, packets []store.Packet, byPacket map[int64][]store.GatewayRelay) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, p := range packets {
		rec := bundleRecord{Packet: p, Relays: byPacket[p.ID]}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
	}
	return w.Flush()
}

func (a *Archiver) seed(path string) (string, error) {
	info := metainfo.Info{PieceLength: 256 * 1024}
	if err := info.BuildFromFilePath(path); err != nil {
		return "", fmt.Errorf("build torrent info: %w", err)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal torrent info: %w", err)
	}
	mi := &metainfo.MetaInfo{InfoBytes: infoBytes}

	if torrentBytes, err := bencode.Marshal(mi); err != nil {
		a.log.Warn("archive: marshal .torrent file failed", zap.Error(err))
	} else if err := os.WriteFile(path+".torrent", torrentBytes, 0o644); err != nil {
		a.log.Warn("archive: write .torrent file failed", zap.Error(err))
	}

	t, err := a.client.AddTorrent(mi)
	if err != nil {
		return "", fmt.Errorf("add torrent: %w", err)
	}
	t.VerifyData()

	for _, addr := range a.cfg.Peers {
		tcpAddr, rerr := net.ResolveTCPAddr("tcp", addr)
		if rerr != nil {
			a.log.Warn("archive: bad peer address", zap.String("addr", addr), zap.Error(rerr))
			continue
		}
		t.AddPeers([]torrent.PeerInfo{{Addr: tcpAddr}})
	}

	hash := mi.HashInfoBytes()
	return hash.HexString(), nil
}
