// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package server_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/harvy-btc/harvy/bitcoin"
	"github.com/harvy-btc/harvy/bitcoin/finalizer"
	"github.com/harvy-btc/harvy/bitcoin/signer"
	"github.com/harvy-btc/harvy/bitcoin/txbuilder"
	"github.com/harvy-btc/harvy/internal/server"
	"github.com/harvy-btc/harvy/internal/swapstore"
)

type stubSwaps struct {
	result *txbuilder.SwapResult
	err    error
	calls  int
}

func (s *stubSwaps) BuildSwap(_ context.Context, _ txbuilder.SwapRequest) (*txbuilder.SwapResult, error) {
	s.calls++

	return s.result, s.err
}

func (s *stubSwaps) BuildBatchSwap(_ context.Context, _ txbuilder.SwapRequest) (*txbuilder.SwapResult, error) {
	s.calls++

	return s.result, s.err
}

type stubCaster struct {
	txID      string
	err       error
	verifyErr error
	calls     int
}

func (s *stubCaster) VerifyExpected(_ string, _ bitcoin.ExpectedSwap) error {
	return s.verifyErr
}

func (s *stubCaster) FinalizeAndBroadcast(_ context.Context, _ string) (string, error) {
	s.calls++

	return s.txID, s.err
}

type stubBroadcaster struct {
	calls int
	txID  string
}

func (s *stubBroadcaster) Broadcast(_ context.Context, _ string) (string, error) {
	s.calls++

	return s.txID, nil
}

type memStore struct {
	records map[string]swapstore.Record
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]swapstore.Record)}
}

func (m *memStore) Put(record swapstore.Record) error {
	m.records[record.Key] = record

	return nil
}

func (m *memStore) SetStatus(key string, status swapstore.Status, txID, errText string) error {
	record, ok := m.records[key]
	if !ok {
		return swapstore.ErrNotFound
	}

	record.Status = status
	record.TxID = txID
	record.Error = errText
	m.records[key] = record

	return nil
}

func (m *memStore) Get(key string) (swapstore.Record, error) {
	record, ok := m.records[key]
	if !ok {
		return swapstore.Record{}, swapstore.ErrNotFound
	}

	return record, nil
}

func (m *memStore) List() ([]swapstore.Record, error) {
	records := make([]swapstore.Record, 0, len(m.records))
	for _, record := range m.records {
		records = append(records, record)
	}

	return records, nil
}

// psbtFixture builds real, finalizable PSBTs so broadcast tests exercise the
// actual record lookup and output verification.
type psbtFixture struct {
	key     *btcec.PrivateKey
	address btcutil.Address
	script  []byte
}

func newPSBTFixture(t *testing.T) *psbtFixture {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	address, err := btcutil.NewAddressTaproot(
		schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(key.PubKey())), &chaincfg.MainNetParams)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(address)
	require.NoError(t, err)

	return &psbtFixture{key: key, address: address, script: script}
}

func (f *psbtFixture) packet(t *testing.T, sign bool, outValues ...int64) string {
	var prevHash chainhash.Hash
	tx := wire.NewMsgTx(2)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&prevHash, 0), nil, nil))
	for _, value := range outValues {
		tx.AddTxOut(wire.NewTxOut(value, f.script))
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	packet.Inputs[0].WitnessUtxo = wire.NewTxOut(100000, f.script)
	packet.Inputs[0].SighashType = txscript.SigHashAll
	packet.Inputs[0].TaprootInternalKey = f.key.PubKey().SerializeCompressed()[1:]

	buf := bytes.NewBuffer(nil)
	require.NoError(t, packet.Serialize(buf))

	serialized := buf.Bytes()
	if sign {
		serialized, err = signer.NewSigner(&chaincfg.MainNetParams).SignTaproot(signer.SignTaprootParams{
			SerializedPSBT: serialized,
			Inputs:         []int{0},
			PrivateKey:     f.key,
		})
		require.NoError(t, err)
	}

	return base64.StdEncoding.EncodeToString(serialized)
}

func unsignedTxID(t *testing.T, psbtBase64 string) string {
	raw, err := base64.StdEncoding.DecodeString(psbtBase64)
	require.NoError(t, err)

	packet, err := psbt.NewFromRawBytes(bytes.NewReader(raw), false)
	require.NoError(t, err)

	return packet.UnsignedTx.TxHash().String()
}

func newTestServer(swaps server.SwapService, caster server.BroadcastService, store server.RecordStore) *httptest.Server {
	log := logrus.New()
	log.SetOutput(io.Discard)

	srv := server.NewServer(server.Config{Address: ":0", SwapsPerHour: 100}, log, swaps, caster, store)

	return httptest.NewServer(srv.Handler())
}

func postJSON(t *testing.T, url string, body any) (*http.Response, []byte) {
	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, respBody
}

func swapBody() server.SwapRequestJSON {
	return server.SwapRequestJSON{
		Intents: []server.SwapIntentJSON{{
			InscriptionID:     "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855i0",
			PurchasePriceSats: 3_000_000,
			CurrentPriceSats:  1_000_000,
		}},
		SellerAddress: "bc1pseller",
		BTCPriceUSD:   100_000,
	}
}

func TestSwapEndpoint(t *testing.T) {
	t.Run("success stores a record", func(t *testing.T) {
		store := newMemStore()
		expected := []bitcoin.ExpectedOutput{
			{Address: "bc1pseller", AmountSats: 600},
			{Address: "bc1poperator", AmountSats: 546},
			{Address: "bc1poperator", AmountSats: 60000},
		}
		swaps := &stubSwaps{result: &txbuilder.SwapResult{
			PSBTBase64:        "cHNidP8=",
			UnsignedTxID:      "0873bc871ac4b165f3d5b456f048ec2d0b4f1c8e9d39c2b11eadcd3c1331508f",
			SellerSignIndices: []int{2},
			InputCount:        3,
			OutputCount:       4,
			ExpectedOutputs:   expected,
			Amounts:           txbuilder.Amounts{SellerPaymentSats: 600, TaxLossSats: 2_000_000},
		}}
		ts := newTestServer(swaps, &stubCaster{}, store)
		defer ts.Close()

		resp, body := postJSON(t, ts.URL+"/v1/swap", swapBody())
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var parsed server.SwapResponseJSON
		require.NoError(t, json.Unmarshal(body, &parsed))
		require.Equal(t, "cHNidP8=", parsed.PSBTBase64)
		require.Equal(t, []int{2}, parsed.SellerSignIndices)
		require.Equal(t, swaps.result.UnsignedTxID, parsed.Key)

		record, err := store.Get(parsed.Key)
		require.NoError(t, err)
		require.Equal(t, swapstore.StatusBuilt, record.Status)
		require.Equal(t, "bc1pseller", record.SellerAddress)
		require.Equal(t, expected, record.Expected)
	})

	t.Run("missing body fields", func(t *testing.T) {
		ts := newTestServer(&stubSwaps{}, &stubCaster{}, newMemStore())
		defer ts.Close()

		resp, _ := postJSON(t, ts.URL+"/v1/swap", map[string]any{"intents": []any{}})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("domain errors map to status codes", func(t *testing.T) {
		tests := []struct {
			err      error
			expected int
		}{
			{bitcoin.ErrInvalidTrade, http.StatusBadRequest},
			{bitcoin.ErrInvalidAddress, http.StatusBadRequest},
			{bitcoin.ErrInscriptionNotFound, http.StatusBadRequest},
			{bitcoin.ErrBatchTooLarge, http.StatusBadRequest},
			{bitcoin.ErrInsufficientFunds, http.StatusConflict},
			{bitcoin.ErrBroadcastRejected, http.StatusBadGateway},
			{context.DeadlineExceeded, http.StatusInternalServerError},
		}
		for _, test := range tests {
			ts := newTestServer(&stubSwaps{err: test.err}, &stubCaster{}, newMemStore())

			resp, _ := postJSON(t, ts.URL+"/v1/swap", swapBody())
			require.Equal(t, test.expected, resp.StatusCode, "error %v", test.err)
			ts.Close()
		}
	})

	t.Run("rate limit", func(t *testing.T) {
		swaps := &stubSwaps{result: &txbuilder.SwapResult{PSBTBase64: "cHNidP8=", UnsignedTxID: "rate-limit-txid"}}
		log := logrus.New()
		log.SetOutput(io.Discard)
		srv := server.NewServer(server.Config{Address: ":0", SwapsPerHour: 2}, log, swaps, &stubCaster{}, newMemStore())
		ts := httptest.NewServer(srv.Handler())
		defer ts.Close()

		for i := 0; i < 2; i++ {
			resp, _ := postJSON(t, ts.URL+"/v1/swap", swapBody())
			require.Equal(t, http.StatusOK, resp.StatusCode)
		}

		resp, _ := postJSON(t, ts.URL+"/v1/swap", swapBody())
		require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
		require.Equal(t, 2, swaps.calls)
	})
}

func TestBroadcastEndpoint(t *testing.T) {
	f := newPSBTFixture(t)

	t.Run("success updates the record", func(t *testing.T) {
		packet := f.packet(t, true, 40000, 50000)
		key := unsignedTxID(t, packet)

		store := newMemStore()
		require.NoError(t, store.Put(swapstore.Record{Key: key, Status: swapstore.StatusBuilt}))

		caster := &stubCaster{txID: "txid-1"}
		ts := newTestServer(&stubSwaps{}, caster, store)
		defer ts.Close()

		resp, body := postJSON(t, ts.URL+"/v1/broadcast", server.BroadcastRequestJSON{PSBTBase64: packet})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, caster.calls)

		var parsed server.BroadcastResponseJSON
		require.NoError(t, json.Unmarshal(body, &parsed))
		require.Equal(t, "txid-1", parsed.TxID)

		record, err := store.Get(key)
		require.NoError(t, err)
		require.Equal(t, swapstore.StatusBroadcast, record.Status)
		require.Equal(t, "txid-1", record.TxID)
	})

	t.Run("intent mismatch blocks broadcast", func(t *testing.T) {
		packet := f.packet(t, true, 40000, 50000)
		key := unsignedTxID(t, packet)

		store := newMemStore()
		require.NoError(t, store.Put(swapstore.Record{
			Key:      key,
			Status:   swapstore.StatusBuilt,
			Expected: []bitcoin.ExpectedOutput{{Address: "bc1pseller", AmountSats: 600}},
		}))

		caster := &stubCaster{verifyErr: bitcoin.ErrIntentMismatch}
		ts := newTestServer(&stubSwaps{}, caster, store)
		defer ts.Close()

		resp, body := postJSON(t, ts.URL+"/v1/broadcast", server.BroadcastRequestJSON{PSBTBase64: packet})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Zero(t, caster.calls)

		var parsed server.ErrorJSON
		require.NoError(t, json.Unmarshal(body, &parsed))
		require.Equal(t, "intent_mismatch", parsed.Code)

		record, err := store.Get(key)
		require.NoError(t, err)
		require.Equal(t, swapstore.StatusRejected, record.Status)
	})

	t.Run("rejection marks the record", func(t *testing.T) {
		packet := f.packet(t, true, 40000, 50000)
		key := unsignedTxID(t, packet)

		store := newMemStore()
		require.NoError(t, store.Put(swapstore.Record{Key: key, Status: swapstore.StatusBuilt}))

		ts := newTestServer(&stubSwaps{}, &stubCaster{err: bitcoin.ErrBroadcastRejected}, store)
		defer ts.Close()

		resp, _ := postJSON(t, ts.URL+"/v1/broadcast", server.BroadcastRequestJSON{PSBTBase64: packet})
		require.Equal(t, http.StatusBadGateway, resp.StatusCode)

		record, err := store.Get(key)
		require.NoError(t, err)
		require.Equal(t, swapstore.StatusRejected, record.Status)
	})
}

// TestBroadcastIntentVerification runs the broadcast endpoint against the
// real finalizer: a record holding the complete expected output list must let
// the matching PSBT through and block a tampered one, and the record must be
// found again after the seller has signed.
func TestBroadcastIntentVerification(t *testing.T) {
	f := newPSBTFixture(t)
	address := f.address.EncodeAddress()

	// the record is keyed off the unsigned packet, broadcast submits the
	// signed one. the key must match across signing.
	key := unsignedTxID(t, f.packet(t, false, 40000, 50000))
	signed := f.packet(t, true, 40000, 50000)
	require.Equal(t, key, unsignedTxID(t, signed))

	t.Run("matching intent broadcasts", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.Put(swapstore.Record{
			Key:    key,
			Status: swapstore.StatusBuilt,
			Expected: []bitcoin.ExpectedOutput{
				{Address: address, AmountSats: 40000},
				{Address: address, AmountSats: 50000},
			},
		}))

		caster := &stubBroadcaster{txID: "accepted-txid"}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)
		ts := newTestServer(&stubSwaps{}, fin, store)
		defer ts.Close()

		resp, body := postJSON(t, ts.URL+"/v1/broadcast", server.BroadcastRequestJSON{PSBTBase64: signed})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Equal(t, 1, caster.calls)

		var parsed server.BroadcastResponseJSON
		require.NoError(t, json.Unmarshal(body, &parsed))
		require.Equal(t, "accepted-txid", parsed.TxID)

		record, err := store.Get(key)
		require.NoError(t, err)
		require.Equal(t, swapstore.StatusBroadcast, record.Status)
	})

	t.Run("tampered outputs are rejected", func(t *testing.T) {
		store := newMemStore()
		require.NoError(t, store.Put(swapstore.Record{
			Key:    key,
			Status: swapstore.StatusBuilt,
			Expected: []bitcoin.ExpectedOutput{
				{Address: address, AmountSats: 40000},
				{Address: address, AmountSats: 49999},
			},
		}))

		caster := &stubBroadcaster{}
		fin := finalizer.NewFinalizer(&chaincfg.MainNetParams, caster)
		ts := newTestServer(&stubSwaps{}, fin, store)
		defer ts.Close()

		resp, body := postJSON(t, ts.URL+"/v1/broadcast", server.BroadcastRequestJSON{PSBTBase64: signed})
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Zero(t, caster.calls)

		var parsed server.ErrorJSON
		require.NoError(t, json.Unmarshal(body, &parsed))
		require.Equal(t, "intent_mismatch", parsed.Code)

		record, err := store.Get(key)
		require.NoError(t, err)
		require.Equal(t, swapstore.StatusRejected, record.Status)
	})
}

func TestSwapRecordEndpoint(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Put(swapstore.Record{Key: "known", SellerAddress: "bc1pseller", Status: swapstore.StatusBuilt}))

	ts := newTestServer(&stubSwaps{}, &stubCaster{}, store)
	defer ts.Close()

	t.Run("found", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/swap/known")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("not found", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/v1/swap/unknown")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestSwapListEndpoint(t *testing.T) {
	store := newMemStore()
	require.NoError(t, store.Put(swapstore.Record{Key: "first", Status: swapstore.StatusBuilt}))
	require.NoError(t, store.Put(swapstore.Record{Key: "second", Status: swapstore.StatusBroadcast}))

	ts := newTestServer(&stubSwaps{}, &stubCaster{}, store)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/swaps")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var records []swapstore.Record
	require.NoError(t, json.Unmarshal(body, &records))
	require.Len(t, records, 2)
}
