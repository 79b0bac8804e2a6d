package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

var client = http.Client{Timeout: 10 * time.Second}

// wallet is the part of the node's wallet document the commands use.
type wallet struct {
	Address   string `json:"address"`
	Balance   uint64 `json:"balance"`
	Nonce     uint64 `json:"nonce"`
	NextNonce uint64 `json:"next_nonce"`
	Multisig  bool   `json:"multisig"`
}

type nodeStatus struct {
	Mode   string `json:"mode"`
	Height uint64 `json:"height"`
}

type apiError struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func get(path string, v any) error {
	resp, err := client.Get(url + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, v)
}

func post(path string, body any, v any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := client.Post(url+path, "application/json", bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeResponse(resp, v)
}

func decodeResponse(resp *http.Response, v any) error {
	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if err := json.NewDecoder(resp.Body).Decode(&ae); err != nil || ae.Error == "" {
			return fmt.Errorf("node responded %s", resp.Status)
		}
		if len(ae.Fields) > 0 {
			return fmt.Errorf("node responded %s: %s %v", resp.Status, ae.Error, ae.Fields)
		}
		return fmt.Errorf("node responded %s: %s", resp.Status, ae.Error)
	}

	return json.NewDecoder(resp.Body).Decode(v)
}

// nextNonce returns the nonce and the reference height for a new
// transaction from the address.
func nextNonce(address string) (nonce uint64, height uint64, err error) {
	var st nodeStatus
	if err := get("/v1/status", &st); err != nil {
		return 0, 0, err
	}

	var w wallet
	if err := get("/v1/wallets/"+address, &w); err != nil {
		return 0, 0, err
	}

	return w.NextNonce, st.Height, nil
}
