package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"skoll/internal/common"
	skollNet "skoll/internal/net"
)

func main() {
	// CLI parameter parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	account := flag.String("account", "", "Beneficiary account (compulsory)")
	action := flag.String("action", "bid", "Action to perform: ['create-pair', 'bid', 'ask']")

	// Pair creation parameters
	baseAsset := flag.String("base", "BTC", "Base asset code (max 4 chars)")
	quoteAsset := flag.String("quote", "USDT", "Quote asset code (max 4 chars)")

	// Order parameters
	pairStr := flag.String("pair", "", "Pair handle (UUID from create-pair)")
	price := flag.Uint64("price", 100, "Limit price, quote units per base unit")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")

	flag.Parse()

	if *account == "" {
		fmt.Println("Error: -account is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *account)

	// Start listening for reports (async).
	go readReports(conn)

	switch strings.ToLower(*action) {
	case "create-pair":
		msg := skollNet.CreatePairMessage{
			Base:    common.Asset(*baseAsset),
			Quote:   common.Asset(*quoteAsset),
			Account: common.AccountID(*account),
		}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Fatalf("Failed to send create-pair: %v", err)
		}
		fmt.Printf("-> Sent CreatePair %s/%s\n", *baseAsset, *quoteAsset)

	case "bid", "ask":
		if *pairStr == "" {
			log.Fatal("Error: -pair is required for submissions")
		}
		pairID, err := uuid.Parse(*pairStr)
		if err != nil {
			log.Fatalf("Invalid pair handle %q: %v", *pairStr, err)
		}

		typeOf := skollNet.SubmitBid
		if strings.ToLower(*action) == "ask" {
			typeOf = skollNet.SubmitAsk
		}

		for _, qty := range parseQuantities(*qtyStr) {
			msg := skollNet.SubmitMessage{
				BaseMessage: skollNet.BaseMessage{TypeOf: typeOf},
				PairID:      pairID,
				Price:       *price,
				Quantity:    qty,
				Account:     common.AccountID(*account),
			}
			if _, err := conn.Write(msg.Serialize()); err != nil {
				log.Printf("Failed to submit (qty: %d): %v", qty, err)
			} else {
				fmt.Printf("-> Sent %s: %d @ %d\n", strings.ToUpper(*action), qty, *price)
			}
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	// Keep the client alive to receive reports.
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

// readReports continuously reads and parses Report frames from the server
func readReports(conn net.Conn) {
	headerBuf := make([]byte, skollNet.ReportFixedHeaderLen)
	for {
		if _, err := io.ReadFull(conn, headerBuf); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		report, err := skollNet.ParseReportHeader(headerBuf)
		if err != nil {
			log.Printf("Bad report header: %v", err)
			continue
		}

		tail := make([]byte, int(report.ErrStrLen)+int(report.CounterpartyLen))
		if len(tail) > 0 {
			if _, err := io.ReadFull(conn, tail); err != nil {
				log.Printf("Error reading report body: %v", err)
				break
			}
		}
		if err := report.FinishReport(tail); err != nil {
			log.Printf("Bad report body: %v", err)
			continue
		}

		switch report.MessageType {
		case skollNet.PairCreatedReport:
			fmt.Printf("\n[PAIR CREATED] %s\n", report.PairID)
		case skollNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
		case skollNet.ExecutionReport:
			fmt.Printf("\n[EXECUTION] %s | Price: %d | Base: %d | Quote: %d | vs: %s | Pair: %s\n",
				strings.ToUpper(report.Side.String()),
				report.Price,
				report.BaseQty,
				report.QuoteQty,
				report.Counterparty,
				report.PairID,
			)
		}
	}
}
