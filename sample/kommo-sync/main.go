// Command kommo-sync pushes one fake completed order to the CRM so the
// pipeline and status id can be checked by hand.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/xavierca1/lead-market/internal/infra/integration/kommo"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using process environment")
	}

	baseURL := os.Getenv("KOMMO_BASE_URL")
	token := os.Getenv("KOMMO_API_TOKEN")
	if baseURL == "" || token == "" {
		log.Fatal("KOMMO_BASE_URL and KOMMO_API_TOKEN must be set")
	}
	statusID, _ := strconv.Atoi(os.Getenv("KOMMO_STATUS_ID"))

	client := kommo.NewClient(baseURL, token, statusID, &http.Client{Timeout: 15 * time.Second})

	input := kommo.SyncOrderInput{
		OrderID:          "smoke-" + time.Now().UTC().Format("20060102150405"),
		PaymentReference: "pi_smoke",
		CustomerName:     "Smoke Test Buyer",
		Email:            "smoke.buyer@example.com",
		TotalCents:       1250,
		LeadCount:        3,
		LeadTypes:        []string{"final_expense", "life"},
	}

	fmt.Printf("syncing order %s (%d leads, %d cents) for %s\n", input.OrderID, input.LeadCount, input.TotalCents, input.Email)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	dealID, err := client.SyncOrder(ctx, input)
	if err != nil {
		log.Fatalf("sync order: %v", err)
	}
	fmt.Printf("deal created: #%d\n", dealID)
	fmt.Printf("link: %s/leads/detail/%d\n", baseURL, dealID)
}
