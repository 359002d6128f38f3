// Command smoke runs an end-to-end check against a running API instance:
// sign in, create a factory and a product, publish it, then verify the
// product through the public lookup and confirm the scan was counted.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

func main() {
	base := os.Getenv("CERTISCAN_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	email := os.Getenv("CERTISCAN_SMOKE_EMAIL")
	if email == "" {
		email = "admin@certiscan.local"
	}
	password := os.Getenv("CERTISCAN_SMOKE_PASSWORD")
	if password == "" {
		password = "change-me-now"
	}

	client := &http.Client{Timeout: 10 * time.Second}

	var signIn struct {
		Token string `json:"token"`
	}
	call(client, "POST", base+"/v1/auth/signin", "", map[string]any{
		"email":    email,
		"password": password,
	}, http.StatusOK, &signIn)

	var factory struct {
		ID string `json:"id"`
	}
	call(client, "POST", base+"/v1/factories", signIn.Token, map[string]any{
		"name":    fmt.Sprintf("Smoke Factory %d", time.Now().Unix()),
		"address": "1 Smoke Lane",
	}, http.StatusCreated, &factory)

	var created struct {
		ID     string `json:"id"`
		QRCode string `json:"qr_code"`
	}
	call(client, "POST", base+"/v1/products", signIn.Token, map[string]any{
		"factory_id":   factory.ID,
		"product_name": "Smoke Widget",
		"product_type": "electronics",
	}, http.StatusCreated, &created)
	if created.QRCode == "" {
		log.Fatal("created product has no QR code")
	}

	for _, status := range []string{"pending", "approved", "published"} {
		call(client, "PUT", base+"/v1/products/"+created.ID+"/status", signIn.Token,
			map[string]any{"status": status}, http.StatusOK, nil)
	}

	var verified struct {
		Authentic bool `json:"authentic"`
		ScanCount int  `json:"scan_count"`
	}
	call(client, "GET", base+"/product/"+created.QRCode, "", nil, http.StatusOK, &verified)
	if !verified.Authentic {
		log.Fatal("published product reported as not authentic")
	}
	if verified.ScanCount != 1 {
		log.Fatalf("expected scan count 1, got %d", verified.ScanCount)
	}

	fmt.Printf("smoke test passed: product=%s code=%s\n", created.ID, created.QRCode)
}

func call(client *http.Client, method, url, token string, body any, wantStatus int, out any) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			log.Fatalf("%s %s: marshal: %v", method, url, err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rdr)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		log.Fatalf("%s %s: status %d (want %d): %s", method, url, resp.StatusCode, wantStatus, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			log.Fatalf("%s %s: decode: %v", method, url, err)
		}
	}
}
