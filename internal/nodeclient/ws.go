package nodeclient

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gorilla/websocket"
	"github.com/paritytech/stps-go/internal/domain"
	"golang.org/x/crypto/blake2b"
)

// Connection tuning constants.
const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	reconnectDelay    = 500 * time.Millisecond
	maxReconnectDelay = 30 * time.Second
	handshakeTimeout  = 15 * time.Second
)

// rpcRequest / rpcResponse model the JSON-RPC 2.0 envelope the node
// speaks over the WebSocket transport.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Method string          `json:"method"`
	Params *rpcSubParams   `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcSubParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

// WSClient implements NodeClient over a JSON-RPC WebSocket connection
// with automatic reconnect-with-backoff and subscription replay, built
// around a done channel, a read loop, a ping loop, and an exponential
// backoff reconnect routine.
type WSClient struct {
	url string

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	nextID  atomic.Uint64
	pending sync.Map // id uint64 -> chan rpcResponse

	subMu         sync.Mutex
	subscriptions map[string]chan json.RawMessage // subscription id -> delivery channel
	bySubKey      map[string]chan json.RawMessage // local key -> the same delivery channel, stable across reconnects
	subKeyMethod  map[string]string               // local key -> subscribe method, replayed on every reconnect

	done chan struct{}
}

// NewWSClient creates a WebSocket-backed NodeClient for the given node
// URL (e.g. "wss://rpc.example.org").
func NewWSClient(url string) *WSClient {
	return &WSClient{
		url:           url,
		subscriptions: make(map[string]chan json.RawMessage),
		bySubKey:      make(map[string]chan json.RawMessage),
		subKeyMethod:  make(map[string]string),
		done:          make(chan struct{}),
	}
}

// Dial establishes the initial connection and starts the background read
// and ping loops.
func (w *WSClient) Dial(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dialLocked(ctx)
}

func (w *WSClient) dialLocked(ctx context.Context) error {
	if w.closed {
		return fmt.Errorf("nodeclient: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("nodeclient: dial: %w", err)
	}
	w.conn = conn

	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error {
		w.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go w.readLoop()
	go w.pingLoop()

	return nil
}

// Close shuts down the connection and stops all background loops.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)
	if w.conn != nil {
		_ = w.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return w.conn.Close()
	}
	return nil
}

// call performs a request/response JSON-RPC round trip.
func (w *WSClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	id := w.nextID.Add(1)
	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: marshal request: %w", err)
	}

	replyCh := make(chan rpcResponse, 1)
	w.pending.Store(id, replyCh)
	defer w.pending.Delete(id)

	w.mu.RLock()
	conn := w.conn
	w.mu.RUnlock()
	if conn == nil {
		return nil, fmt.Errorf("nodeclient: %w", domain.ErrWSDisconnect)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return nil, fmt.Errorf("nodeclient: write: %w", err)
	}

	select {
	case resp := <-replyCh:
		if resp.Error != nil {
			return nil, fmt.Errorf("nodeclient: rpc error %d: %s", resp.Error.Code, resp.Error.Message)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-w.done:
		return nil, fmt.Errorf("nodeclient: %w", domain.ErrWSDisconnect)
	}
}

// subscribe issues a *_subscribe call and returns a channel of raw
// notification payloads, tracking it for replay on reconnect.
func (w *WSClient) subscribe(ctx context.Context, method, localKey string) (chan json.RawMessage, error) {
	result, err := w.call(ctx, method, nil)
	if err != nil {
		return nil, err
	}
	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return nil, fmt.Errorf("nodeclient: subscribe %s: %w", method, err)
	}

	w.subMu.Lock()
	ch, ok := w.bySubKey[localKey]
	if !ok {
		ch = make(chan json.RawMessage, 64)
		w.bySubKey[localKey] = ch
	}
	w.subKeyMethod[localKey] = method
	w.subscriptions[subID] = ch
	w.subMu.Unlock()

	return ch, nil
}

func (w *WSClient) readLoop() {
	// Close the connection this loop was started for, not whatever w.conn
	// holds on return: after reconnect() it is the freshly dialed one.
	w.mu.RLock()
	own := w.conn
	w.mu.RUnlock()
	defer func() {
		if own != nil {
			own.Close()
		}
	}()

	for {
		select {
		case <-w.done:
			return
		default:
		}

		w.mu.RLock()
		conn := w.conn
		w.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			w.reconnect()
			return
		}

		w.dispatch(message)
	}
}

func (w *WSClient) dispatch(raw []byte) {
	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}

	if resp.Params != nil {
		w.subMu.Lock()
		ch, ok := w.subscriptions[resp.Params.Subscription]
		w.subMu.Unlock()
		if ok {
			select {
			case ch <- resp.Params.Result:
			default:
			}
		}
		return
	}

	if v, ok := w.pending.Load(resp.ID); ok {
		ch := v.(chan rpcResponse)
		select {
		case ch <- resp:
		default:
		}
	}
}

func (w *WSClient) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.mu.RLock()
			conn := w.conn
			w.mu.RUnlock()
			if conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// reconnect re-dials with exponential backoff and replays every tracked
// subscription against the new connection.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		w.mu.Lock()
		err := w.dialLocked(ctx)
		w.mu.Unlock()
		cancel()

		if err == nil {
			w.replaySubscriptions()
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// replaySubscriptions re-issues every tracked subscription against the new
// connection. subscribe() looks up bySubKey by localKey and hands back the
// same channel the original consumer is still reading from, so resubscribing
// only needs to remap the node's newly assigned subscription id to it; the
// consumer side never sees a break.
func (w *WSClient) replaySubscriptions() {
	w.subMu.Lock()
	toReplay := make(map[string]string, len(w.subKeyMethod))
	for k, v := range w.subKeyMethod {
		toReplay[k] = v
	}
	w.subscriptions = make(map[string]chan json.RawMessage)
	w.subMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
	defer cancel()
	for localKey, method := range toReplay {
		_, _ = w.subscribe(ctx, method, localKey)
	}
}

// --- NodeClient implementation ---

func (w *WSClient) AccountNonce(ctx context.Context, account domain.AccountId) (domain.Nonce, error) {
	key := systemAccountStorageKey(account.Bytes())
	result, err := w.call(ctx, "state_getStorage", []any{"0x" + hex.EncodeToString(key)})
	if err != nil {
		return 0, fmt.Errorf("nodeclient: account nonce: %w", err)
	}

	var hexVal *string
	if err := json.Unmarshal(result, &hexVal); err != nil {
		return 0, fmt.Errorf("nodeclient: account nonce: %w", domain.ErrDecodeFailed)
	}
	if hexVal == nil {
		// No storage entry: account never touched chain state yet.
		return 0, nil
	}

	raw, err := hex.DecodeString(trimHex(*hexVal))
	if err != nil || len(raw) < 4 {
		return 0, fmt.Errorf("nodeclient: account nonce: %w", domain.ErrDecodeFailed)
	}
	// AccountInfo opens with a fixed-width little-endian u32 nonce;
	// widen it to u64.
	return uint64(binary.LittleEndian.Uint32(raw[:4])), nil
}

func (w *WSClient) SubmitExtrinsic(ctx context.Context, encoded []byte) ([32]byte, error) {
	result, err := w.call(ctx, "author_submitExtrinsic", []any{"0x" + hex.EncodeToString(encoded)})
	if err != nil {
		return [32]byte{}, fmt.Errorf("nodeclient: submit: %w", err)
	}
	var hashHex string
	if err := json.Unmarshal(result, &hashHex); err != nil {
		return [32]byte{}, fmt.Errorf("nodeclient: submit: %w", domain.ErrDecodeFailed)
	}
	return decodeHash32(hashHex)
}

// SubmitAndWatch submits encoded via author_submitAndWatchExtrinsic and
// forwards each transaction-status notification until a terminal status
// arrives. Watch subscriptions are deliberately not replayed on
// reconnect: a dropped watch stream stays dropped (the node decides the
// in-flight extrinsic's fate), so the delivery channel is registered
// only in the live subscription map.
func (w *WSClient) SubmitAndWatch(ctx context.Context, encoded []byte) (<-chan SubmissionStatus, error) {
	result, err := w.call(ctx, "author_submitAndWatchExtrinsic", []any{"0x" + hex.EncodeToString(encoded)})
	if err != nil {
		return nil, fmt.Errorf("nodeclient: submit and watch: %w", err)
	}
	var subID string
	if err := json.Unmarshal(result, &subID); err != nil {
		return nil, fmt.Errorf("nodeclient: submit and watch: %w", domain.ErrDecodeFailed)
	}

	raw := make(chan json.RawMessage, 16)
	w.subMu.Lock()
	w.subscriptions[subID] = raw
	w.subMu.Unlock()

	out := make(chan SubmissionStatus, 16)
	go func() {
		defer close(out)
		defer func() {
			w.subMu.Lock()
			delete(w.subscriptions, subID)
			w.subMu.Unlock()
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.done:
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				status, ok := parseSubmissionStatus(payload)
				if !ok {
					continue
				}
				select {
				case out <- status:
				case <-ctx.Done():
					return
				}
				if status.Terminal {
					return
				}
			}
		}
	}()
	return out, nil
}

// parseSubmissionStatus maps one author_extrinsicUpdate payload onto a
// SubmissionStatus. Simple states arrive as bare strings ("ready"),
// block-bearing states as single-key objects ({"inBlock": "0x.."}).
func parseSubmissionStatus(payload json.RawMessage) (SubmissionStatus, bool) {
	var simple string
	if err := json.Unmarshal(payload, &simple); err == nil {
		switch simple {
		case "future":
			return SubmissionStatus{Kind: StatusFuture}, true
		case "ready":
			return SubmissionStatus{Kind: StatusReady}, true
		case "invalid":
			return SubmissionStatus{Kind: StatusInvalid, Terminal: true}, true
		case "dropped":
			return SubmissionStatus{Kind: StatusDropped, Terminal: true}, true
		default:
			return SubmissionStatus{}, false
		}
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(payload, &tagged); err != nil {
		return SubmissionStatus{}, false
	}
	for key, val := range tagged {
		switch key {
		case "broadcast":
			return SubmissionStatus{Kind: StatusBroadcast}, true
		case "inBlock", "finalized":
			var hashHex string
			if err := json.Unmarshal(val, &hashHex); err != nil {
				return SubmissionStatus{}, false
			}
			hash, err := decodeHash32(hashHex)
			if err != nil {
				return SubmissionStatus{}, false
			}
			if key == "inBlock" {
				return SubmissionStatus{Kind: StatusInBlock, Block: hash}, true
			}
			return SubmissionStatus{Kind: StatusFinalized, Block: hash, Terminal: true}, true
		case "error":
			return SubmissionStatus{Kind: StatusError, Terminal: true}, true
		}
	}
	return SubmissionStatus{}, false
}

// GenesisHash fetches the hash of block 0.
func (w *WSClient) GenesisHash(ctx context.Context) ([32]byte, error) {
	return w.blockHash(ctx, 0)
}

// blockHash resolves a block number to its hash via chain_getBlockHash.
func (w *WSClient) blockHash(ctx context.Context, number uint64) ([32]byte, error) {
	result, err := w.call(ctx, "chain_getBlockHash", []any{number})
	if err != nil {
		return [32]byte{}, fmt.Errorf("nodeclient: block hash %d: %w", number, err)
	}
	var hashHex string
	if err := json.Unmarshal(result, &hashHex); err != nil {
		return [32]byte{}, fmt.Errorf("nodeclient: block hash %d: %w", number, domain.ErrDecodeFailed)
	}
	return decodeHash32(hashHex)
}

func (w *WSClient) SubscribeBestBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error) {
	return w.subscribeHeads(ctx, "chain_subscribeNewHeads", false)
}

func (w *WSClient) SubscribeFinalizedBlocks(ctx context.Context) (<-chan domain.BestBlockSlot, error) {
	return w.subscribeHeads(ctx, "chain_subscribeFinalizedHeads", true)
}

func (w *WSClient) subscribeHeads(ctx context.Context, method string, finalized bool) (<-chan domain.BestBlockSlot, error) {
	raw, err := w.subscribe(ctx, method, method)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: %s: %w", method, err)
	}

	out := make(chan domain.BestBlockSlot, 64)
	go func() {
		defer close(out)
		for {
			select {
			case <-w.done:
				return
			case <-ctx.Done():
				return
			case payload, ok := <-raw:
				if !ok {
					return
				}
				var header struct {
					Number     string `json:"number"`
					ParentHash string `json:"parentHash"`
				}
				if err := json.Unmarshal(payload, &header); err != nil {
					continue
				}
				num, err := strconv.ParseUint(trimHex(header.Number), 16, 64)
				if err != nil {
					continue
				}
				// Head notifications carry the header, not its hash;
				// resolve it so the decoder can fetch the block body.
				hash, err := w.blockHash(context.Background(), num)
				if err != nil {
					continue
				}
				slot := domain.BestBlockSlot{
					Number:    num,
					Hash:      hash,
					Timestamp: time.Now(),
					Finalized: finalized,
				}
				select {
				case out <- slot:
				case <-w.done:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (w *WSClient) BlockExtrinsics(ctx context.Context, blockHash [32]byte) (BlockBody, error) {
	result, err := w.call(ctx, "chain_getBlock", []any{"0x" + hex.EncodeToString(blockHash[:])})
	if err != nil {
		return BlockBody{}, fmt.Errorf("nodeclient: block body: %w", err)
	}

	var body struct {
		Block struct {
			Header struct {
				Number string `json:"number"`
			} `json:"header"`
			Extrinsics []string `json:"extrinsics"`
		} `json:"block"`
	}
	if err := json.Unmarshal(result, &body); err != nil {
		return BlockBody{}, fmt.Errorf("nodeclient: block body: %w", domain.ErrDecodeFailed)
	}

	num, _ := strconv.ParseUint(trimHex(body.Block.Header.Number), 16, 64)
	out := BlockBody{Number: num, Hash: blockHash}
	for _, e := range body.Block.Extrinsics {
		raw, err := hex.DecodeString(trimHex(e))
		if err != nil {
			continue
		}
		out.Extrinsics = append(out.Extrinsics, raw)
	}

	if events, err := w.fetchEvents(ctx, blockHash); err == nil {
		out.Events = events
	}

	return out, nil
}

// fetchEvents reads the System.Events storage item at blockHash and
// splits it into individual event blobs. Each blob is a compact-
// length-prefixed record of [pallet byte, variant byte, args...],
// the same reference-runtime simplification internal/txbuilder uses
// for extrinsics rather than a full metadata-driven event decode. A
// node that returns no entry for the key yields a nil slice, not an
// error.
func (w *WSClient) fetchEvents(ctx context.Context, blockHash [32]byte) ([][]byte, error) {
	key := eventsStorageKey()
	result, err := w.call(ctx, "state_getStorage", []any{
		"0x" + hex.EncodeToString(key),
		"0x" + hex.EncodeToString(blockHash[:]),
	})
	if err != nil {
		return nil, fmt.Errorf("nodeclient: fetch events: %w", err)
	}

	var hexVal *string
	if err := json.Unmarshal(result, &hexVal); err != nil {
		return nil, fmt.Errorf("nodeclient: fetch events: %w", domain.ErrDecodeFailed)
	}
	if hexVal == nil {
		return nil, nil
	}

	raw, err := hex.DecodeString(trimHex(*hexVal))
	if err != nil {
		return nil, fmt.Errorf("nodeclient: fetch events: %w", domain.ErrDecodeFailed)
	}

	count, n, err := DecodeCompact(raw)
	if err != nil {
		return nil, fmt.Errorf("nodeclient: fetch events: %w", err)
	}
	raw = raw[n:]

	events := make([][]byte, 0, count)
	for i := uint64(0); i < count; i++ {
		blob, consumed, err := DecodeBytesWithLength(raw)
		if err != nil {
			return nil, fmt.Errorf("nodeclient: fetch events: event %d: %w", i, err)
		}
		events = append(events, blob)
		raw = raw[consumed:]
	}
	return events, nil
}

// eventsStorageKey builds the twox128("System") ++ twox128("Events")
// storage key for the System.Events map-free single entry.
func eventsStorageKey() []byte {
	return append(append([]byte{}, twox128([]byte("System"))...), twox128([]byte("Events"))...)
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

func decodeHash32(hexStr string) ([32]byte, error) {
	raw, err := hex.DecodeString(trimHex(hexStr))
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("nodeclient: %w: malformed hash", domain.ErrDecodeFailed)
	}
	var out [32]byte
	copy(out[:], raw)
	return out, nil
}

// systemAccountStorageKey builds the twox128("System") ++
// twox128("Account") ++ blake2b_128_concat(accountBytes) storage key
// Substrate uses for the System.Account map, so AccountNonce can read
// real on-chain state without a metadata-driven storage client.
func systemAccountStorageKey(account []byte) []byte {
	key := append(append([]byte{}, twox128([]byte("System"))...), twox128([]byte("Account"))...)
	return append(key, blake2b128Concat(account)...)
}

// twox128 is Substrate's TwoX-128 storage-key hash: two independent
// xxHash64 passes (seeds 0 and 1) concatenated into 16 bytes.
func twox128(data []byte) []byte {
	h0 := xxhash.NewWithSeed(0)
	h0.Write(data)
	h1 := xxhash.NewWithSeed(1)
	h1.Write(data)

	out := make([]byte, 16)
	binary.LittleEndian.PutUint64(out[:8], h0.Sum64())
	binary.LittleEndian.PutUint64(out[8:], h1.Sum64())
	return out
}

// blake2b128Concat is Substrate's Blake2_128Concat storage-key hasher:
// a 16-byte blake2b digest of data followed by data itself, which keeps
// the map key iterable/decodable from storage keys.
func blake2b128Concat(data []byte) []byte {
	h, _ := blake2b.New(16, nil)
	h.Write(data)
	return append(h.Sum(nil), data...)
}
