package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"tailor_hub/internal/delivery"
	"tailor_hub/internal/payment"

	"github.com/joho/godotenv"
)

// Result 记录单次请求的 HTTP 结果，便于聚合统计。
type Result struct {
	Status int
	Body   string
	Err    error
}

func main() {
	_ = godotenv.Load()

	baseURL := flag.String("base", "http://localhost:8080", "server base url")
	secret := flag.String("secret", os.Getenv("PAYMENT_WEBHOOK_SECRET"), "payment webhook secret")
	carrierSecret := flag.String("carrier-secret", os.Getenv("CARRIER_WEBHOOK_SECRET"), "carrier webhook secret")
	paymentID := flag.String("payment", fmt.Sprintf("pay_load_%d", time.Now().Unix()), "gateway payment id")
	orderID := flag.String("order", "", "order id")
	quoteID := flag.String("quote", "", "quote id")
	vendorID := flag.String("vendor", "", "vendor id")
	customerID := flag.String("customer", "", "customer id")
	amount := flag.Int64("amount", 0, "captured amount in minor units (quote final price)")
	trackingID := flag.String("tracking", "", "delivery tracking id for the carrier replay phase")
	subStatus := flag.String("status", "PICKUP_ASSIGNED", "carrier sub-status for the replay phase")

	// 同一 webhook 并发重放：应当恰好一个 finalized，其余确认为重复
	n := flag.Int("n", 50, "identical deliveries")
	concurrency := flag.Int("c", 20, "max concurrency")
	flag.Parse()

	if *orderID == "" || *quoteID == "" || *amount <= 0 {
		fmt.Fprintln(os.Stderr, "-order, -quote and -amount are required")
		os.Exit(2)
	}

	client := &http.Client{Timeout: 10 * time.Second}

	body, _ := json.Marshal(map[string]any{
		"event": payment.EventCaptured,
		"payload": map[string]any{"payment": map[string]any{"entity": map[string]any{
			"id":       *paymentID,
			"amount":   *amount,
			"currency": "INR",
			"status":   "captured",
			"method":   "upi",
			"notes": map[string]string{
				"orderId":    *orderID,
				"quoteId":    *quoteID,
				"vendorId":   *vendorID,
				"customerId": *customerID,
			},
		}}},
	})
	headers := map[string]string{payment.SignatureHeader: payment.Sign(body, *secret)}

	fmt.Printf("start payment replay: payment=%s n=%d concurrency=%d\n", *paymentID, *n, *concurrency)
	results := replay(client, *baseURL+"/api/webhooks/payment", body, headers, *n, *concurrency)
	printSummary("payment_replay", results)

	if *trackingID != "" {
		// 同一子状态重复推送：恰好一次 200，其余 409
		dbody, _ := json.Marshal(delivery.Event{DeliveryTrackingID: *trackingID, Status: *subStatus})
		dheaders := map[string]string{}
		if *carrierSecret != "" {
			dheaders[delivery.SignatureHeader] = delivery.Sign(dbody, *carrierSecret)
		}
		fmt.Printf("\nstart delivery replay: tracking=%s status=%s n=%d\n", *trackingID, *subStatus, *n)
		results = replay(client, *baseURL+"/api/webhooks/delivery", dbody, dheaders, *n, *concurrency)
		printSummary("delivery_replay", results)
	}
}

func replay(client *http.Client, url string, body []byte, headers map[string]string, total, concurrency int) []Result {
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	results := make([]Result, total)

	for i := 0; i < total; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = postOnce(client, url, body, headers)
		}(i)
	}

	wg.Wait()
	return results
}

func postOnce(client *http.Client, url string, body []byte, headers map[string]string) Result {
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err}
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return Result{Status: resp.StatusCode, Body: string(b)}
}

// printSummary 聚合输出状态码与响应体分布。
func printSummary(name string, results []Result) {
	count := map[int]int{}
	bodies := map[string]int{}
	errCount := 0
	for _, r := range results {
		if r.Err != nil {
			errCount++
			continue
		}
		count[r.Status]++
		bodies[r.Body]++
	}

	codes := make([]int, 0, len(count))
	for code := range count {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	fmt.Printf("[%s] http status summary:\n", name)
	for _, code := range codes {
		fmt.Printf("  %d -> %d\n", code, count[code])
	}
	if errCount > 0 {
		fmt.Printf("  errors -> %d\n", errCount)
	}
	fmt.Printf("[%s] distinct bodies:\n", name)
	for b, c := range bodies {
		fmt.Printf("  %dx %s\n", c, b)
	}
}
