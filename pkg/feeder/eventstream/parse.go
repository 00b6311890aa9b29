package eventstream

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// subscribeMessage returns the JSON-RPC subscription request for kind.
func subscribeMessage(kind Kind) (map[string]interface{}, error) {
	switch kind {
	case KindTendermint:
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "subscribe",
			"id":      0,
			"params": map[string]interface{}{
				"query": "tm.event='NewBlock'",
			},
		}, nil
	case KindSubstrate:
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "chain_subscribeNewHeads",
			"id":      1,
			"params":  []interface{}{},
		}, nil
	case KindEVM:
		return map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "eth_subscribe",
			"id":      1,
			"params":  []interface{}{"newHeads"},
		}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// isSubscriptionAck reports whether msg only confirms the subscription:
// Tendermint answers with an empty result object, the others with a subscription id.
func isSubscriptionAck(msg []byte) bool {
	var response struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(msg, &response); err != nil || response.Result == nil {
		return false
	}
	r := strings.TrimSpace(string(response.Result))
	return r == "{}" || strings.HasPrefix(r, `"`)
}

// parseHeight extracts the block height from a notification of the given kind.
func parseHeight(kind Kind, msg []byte) (uint64, error) {
	switch kind {
	case KindTendermint:
		return parseTendermintHeight(msg)
	case KindSubstrate, KindEVM:
		return parseHeadNumber(msg)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// parseTendermintHeight extracts block height from Tendermint NewBlock event JSON.
func parseTendermintHeight(msg []byte) (uint64, error) {
	var event struct {
		Result struct {
			Data struct {
				Value struct {
					Block struct {
						Header struct {
							Height string `json:"height"`
						} `json:"header"`
					} `json:"block"`
				} `json:"value"`
			} `json:"data"`
		} `json:"result"`
	}

	if err := json.Unmarshal(msg, &event); err != nil {
		return 0, fmt.Errorf("failed to unmarshal event: %w", err)
	}

	raw := event.Result.Data.Value.Block.Header.Height
	if raw == "" {
		return 0, ErrNoHeight
	}
	height, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse height: %w", err)
	}
	return height, nil
}

// parseHeadNumber reads params.result.number, a hex quantity in both
// chain_newHead and eth_subscription notifications.
func parseHeadNumber(msg []byte) (uint64, error) {
	var notification struct {
		Params struct {
			Result struct {
				Number string `json:"number"`
			} `json:"result"`
		} `json:"params"`
	}

	if err := json.Unmarshal(msg, &notification); err != nil {
		return 0, fmt.Errorf("failed to unmarshal notification: %w", err)
	}

	raw := notification.Params.Result.Number
	if raw == "" {
		return 0, ErrNoHeight
	}
	height, err := strconv.ParseUint(strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse block number %q: %w", raw, err)
	}
	return height, nil
}
