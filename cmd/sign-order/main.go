package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"

	"github.com/uhyunpark/perpgate/pkg/crypto"
	"github.com/uhyunpark/perpgate/pkg/market"
	"github.com/uhyunpark/perpgate/pkg/transaction"
	"github.com/uhyunpark/perpgate/pkg/units"
)

// sign-order builds and signs an order offline and prints what would be sent.
// Nothing touches the network.
func main() {
	marketID := flag.String("market", "SOL-PERP", "market id")
	side := flag.String("side", "buy", "buy or sell")
	price := flag.String("price", "185.50", "price in quote asset")
	qty := flag.String("qty", "1.0", "quantity in base asset")
	leverage := flag.Uint64("leverage", 10, "leverage 1..100")
	baseDecimals := flag.Int("base-decimals", 9, "base asset exponent")
	quoteDecimals := flag.Int("quote-decimals", 6, "quote asset exponent")
	flag.Parse()

	// Step 1: Load or generate key
	kp, err := keypair()
	if err != nil {
		fail("key", err)
	}
	defer kp.Wipe()
	fmt.Printf("Owner: %s\n\n", kp.PublicString())

	// Step 2: Convert human units
	m := &market.Market{
		ID:    *marketID,
		Base:  units.Asset{Symbol: "BASE", Exponent: int32(*baseDecimals)},
		Quote: units.Asset{Symbol: "QUOTE", Exponent: int32(*quoteDecimals)},
	}
	s, err := transaction.ParseSide(*side)
	if err != nil {
		fail("side", err)
	}
	p, err := units.ParseDecimal(*price)
	if err != nil {
		fail("price", err)
	}
	q, err := units.ParseDecimal(*qty)
	if err != nil {
		fail("qty", err)
	}
	priceUnits, err := m.PriceUnits(p)
	if err != nil {
		fail("price", err)
	}
	qtyUnits, err := m.QuantityUnits(q)
	if err != nil {
		fail("qty", err)
	}

	nonce, err := crypto.GenerateNonce()
	if err != nil {
		fail("nonce", err)
	}
	intent := &transaction.OrderIntent{
		Nonce:    nonce,
		Owner:    kp.Public(),
		MarketID: m.ID,
		Side:     s,
		Price:    priceUnits,
		Quantity: qtyUnits,
		Leverage: *leverage,
	}
	if err := intent.Validate(); err != nil {
		fail("order", err)
	}
	if intent.MarginAmount, err = m.MarginUnits(priceUnits, qtyUnits, *leverage); err != nil {
		fail("margin", err)
	}

	fmt.Println("Order Details:")
	fmt.Printf("  Market: %s\n", intent.MarketID)
	fmt.Printf("  Side: %s\n", intent.Side)
	fmt.Printf("  Price: %s (%d units)\n", p, intent.Price)
	fmt.Printf("  Qty: %s (%d units)\n", q, intent.Quantity)
	fmt.Printf("  Leverage: %dx\n", intent.Leverage)
	fmt.Printf("  Margin: %s (%d units)\n\n", m.Price(intent.MarginAmount), intent.MarginAmount)

	// Step 3: Encode and sign
	msg, err := transaction.Sign(intent, kp)
	if err != nil {
		fail("sign", err)
	}

	out, err := json.MarshalIndent(map[string]any{
		"kind":       msg.Kind.String(),
		"payload":    hexutil.Encode(msg.Payload),
		"signature":  msg.SignatureHex(),
		"public_key": msg.Signer.String(),
		"nonce":      msg.Nonce,
		"digest":     msg.Digest().Hex(),
	}, "", "  ")
	if err != nil {
		fail("json", err)
	}
	fmt.Println("Signed Message (JSON):")
	fmt.Println(string(out))
	fmt.Println()

	// Step 4: Decode and verify what was signed
	decoded, err := msg.Order()
	if err != nil {
		fail("decode", err)
	}
	if !msg.Verify() {
		fmt.Println("✗ Signature INVALID")
		os.Exit(1)
	}
	fmt.Println("✓ Signature VALID")
	fmt.Printf("  Round trip matches: %v\n", *decoded == *intent)
}

// keypair reads GATEWAY_SECRET_KEY, or generates a throwaway key
func keypair() (*crypto.Keypair, error) {
	if secret := os.Getenv("GATEWAY_SECRET_KEY"); secret != "" {
		return crypto.FromBase58Secret(secret)
	}
	fmt.Println("GATEWAY_SECRET_KEY not set, generating a throwaway keypair...")
	return crypto.Generate()
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "Error (%s): %v\n", step, err)
	os.Exit(1)
}
