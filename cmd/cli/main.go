package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/hamed0406/servicestatus/internal/probe"
)

func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://127.0.0.1:8080"
	}

	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Name for the endpoint: ")
	name, _ := reader.ReadString('\n')
	name = strings.TrimSpace(name)

	fmt.Print("URL to monitor (e.g., https://example.com): ")
	raw, _ := reader.ReadString('\n')
	raw = strings.TrimSpace(raw)
	if raw != "" && !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if !probe.ValidURL(raw) {
		fmt.Println("Warning: URL is not http(s)://host[/path]; it will be shown offline.")
	}

	body, _ := json.Marshal(map[string]string{"name": name, "url": raw})
	resp, err := http.Post(api+"/api/endpoints", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		fmt.Println("API returned status:", resp.Status)
		return
	}
	var added struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&added)
	fmt.Printf("Added %s. Watch it with GET /api/status.\n", added.ID)
}
