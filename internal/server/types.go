// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

package server

import (
	"github.com/harvy-btc/harvy/bitcoin/txbuilder"
)

// SwapIntentJSON is one inscription position in a swap request body.
type SwapIntentJSON struct {
	InscriptionID     string `json:"inscriptionId" binding:"required"`
	PurchasePriceSats int64  `json:"purchasePriceSats"`
	CurrentPriceSats  int64  `json:"currentPriceSats"`
}

// SwapRequestJSON is the body of POST /v1/swap and POST /v1/swap/batch.
type SwapRequestJSON struct {
	Intents       []SwapIntentJSON `json:"intents" binding:"required"`
	SellerAddress string           `json:"sellerAddress" binding:"required"`
	SellerPubKey  string           `json:"sellerPubKey"`
	BTCPriceUSD   float64          `json:"btcPriceUsd" binding:"required"`
}

// AmountsJSON reports every value computed for a built swap.
type AmountsJSON struct {
	SellerPaymentSats int64   `json:"sellerPaymentSats"`
	InscriptionSats   int64   `json:"inscriptionSats"`
	ServiceFeeSats    int64   `json:"serviceFeeSats"`
	ChangeSats        int64   `json:"changeSats"`
	NetworkFeeSats    int64   `json:"networkFeeSats"`
	TaxLossSats       int64   `json:"taxLossSats"`
	TaxLossUSD        float64 `json:"taxLossUsd"`
	TaxSavingsUSD     float64 `json:"taxSavingsUsd"`
	ServiceFeeUSD     float64 `json:"serviceFeeUsd"`
	FeePercent        int     `json:"feePercent"`
}

// SwapResponseJSON is the successful response of the swap endpoints.
type SwapResponseJSON struct {
	Key               string      `json:"key"`
	PSBTBase64        string      `json:"psbtBase64"`
	SellerSignIndices []int       `json:"sellerSignIndices"`
	InputCount        int         `json:"inputCount"`
	OutputCount       int         `json:"outputCount"`
	Amounts           AmountsJSON `json:"amounts"`
}

// BroadcastRequestJSON is the body of POST /v1/broadcast.
type BroadcastRequestJSON struct {
	PSBTBase64 string `json:"psbtBase64" binding:"required"`
}

// BroadcastResponseJSON is the successful response of POST /v1/broadcast.
type BroadcastResponseJSON struct {
	TxID string `json:"txId"`
}

// ErrorJSON is the uniform error body. Code is a stable machine-readable
// kind, Error carries the human-readable chain.
type ErrorJSON struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func toSwapRequest(body SwapRequestJSON) txbuilder.SwapRequest {
	intents := make([]txbuilder.SwapIntent, 0, len(body.Intents))
	for _, intent := range body.Intents {
		intents = append(intents, txbuilder.SwapIntent{
			InscriptionID:     intent.InscriptionID,
			PurchasePriceSats: intent.PurchasePriceSats,
			CurrentPriceSats:  intent.CurrentPriceSats,
		})
	}

	return txbuilder.SwapRequest{
		Intents:       intents,
		SellerAddress: body.SellerAddress,
		SellerPubKey:  body.SellerPubKey,
		BTCPriceUSD:   body.BTCPriceUSD,
	}
}

func toAmountsJSON(amounts txbuilder.Amounts) AmountsJSON {
	return AmountsJSON{
		SellerPaymentSats: amounts.SellerPaymentSats,
		InscriptionSats:   amounts.InscriptionSats,
		ServiceFeeSats:    amounts.ServiceFeeSats,
		ChangeSats:        amounts.ChangeSats,
		NetworkFeeSats:    amounts.NetworkFeeSats,
		TaxLossSats:       amounts.TaxLossSats,
		TaxLossUSD:        amounts.TaxLossUSD,
		TaxSavingsUSD:     amounts.TaxSavingsUSD,
		ServiceFeeUSD:     amounts.FeeQuote.FeeUSD,
		FeePercent:        amounts.FeeQuote.FeePercent,
	}
}
