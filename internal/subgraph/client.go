// Package subgraph queries the Predictoor subgraph for feed contracts and
// past subscription spend.
package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/dfbuyer/internal/logger"
	"github.com/rewired-gh/dfbuyer/internal/models"
)

// PageSize is the largest page the subgraph serves.
const PageSize = 1000

// Client provides access to the subgraph GraphQL endpoint
type Client struct {
	url  string
	http *resty.Client
}

// ClientConfig holds transport tuning for the GraphQL client
type ClientConfig struct {
	Timeout        time.Duration
	MaxRetries     int
	RetryDelayBase time.Duration
}

// NewClient creates a new subgraph client
func NewClient(url string, cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}

	httpClient := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryDelayBase).
		SetRetryMaxWaitTime(10*cfg.RetryDelayBase).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return err != nil || resp.StatusCode() >= 500
		})

	return &Client{url: url, http: httpClient}
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse[T any] struct {
	Data   *T             `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type nftDataItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type order struct {
	ID               string `json:"id"`
	CreatedTimestamp int64  `json:"createdTimestamp"`
	LastPriceValue   string `json:"lastPriceValue"`
	Datatoken        struct {
		ID string `json:"id"`
	} `json:"datatoken"`
}

type ordersData struct {
	Orders []order `json:"orders"`
}

type predictContract struct {
	ID    string `json:"id"`
	Token struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
		NFT    struct {
			Owner struct {
				ID string `json:"id"`
			} `json:"owner"`
			NFTData []nftDataItem `json:"nftData"`
		} `json:"nft"`
	} `json:"token"`
	SecondsPerEpoch        string `json:"secondsPerEpoch"`
	SecondsPerSubscription string `json:"secondsPerSubscription"`
}

type predictContractsData struct {
	PredictContracts []predictContract `json:"predictContracts"`
}

const feedContractsQuery = `{
	predictContracts(skip: %d, first: %d) {
		id
		token {
			id
			name
			symbol
			nft {
				owner { id }
				nftData { key value }
			}
		}
		secondsPerEpoch
		secondsPerSubscription
	}
}`

// consumeQuery pages the owner's orders across all feeds by id.
const consumeQuery = `{
	orders(first: %d, orderBy: id, orderDirection: asc, where: {id_gt: "%s", datatoken_in: %s, consumer: "%s", createdTimestamp_gt: %d}) {
		id
		createdTimestamp
		lastPriceValue
		datatoken { id }
	}
}`

// ListEligibleMarkets pages through all feed contracts and returns the
// addresses passing filters, in subgraph order.
func (c *Client) ListEligibleMarkets(ctx context.Context, filters models.MarketFilters) ([]models.Topic, error) {
	match, err := NewMatcher(filters)
	if err != nil {
		return nil, err
	}

	var topics []models.Topic
	seen := make(map[models.Topic]struct{})
	for skip := 0; ; skip += PageSize {
		var data predictContractsData
		if err := c.query(ctx, fmt.Sprintf(feedContractsQuery, skip, PageSize), &data); err != nil {
			return nil, fmt.Errorf("failed to query feed contracts at skip %d: %w", skip, err)
		}
		if len(data.PredictContracts) == 0 {
			break
		}

		for _, pc := range data.PredictContracts {
			info := DecodeInfo725(pc.Token.NFT.NFTData)
			if !info.Complete() {
				continue
			}
			if !match.Match(info, pc.Token.NFT.Owner.ID) {
				continue
			}
			topic := models.NormalizeTopic(pc.ID)
			if _, dup := seen[topic]; dup {
				continue
			}
			seen[topic] = struct{}{}
			topics = append(topics, topic)
		}

		if len(data.PredictContracts) < PageSize {
			break
		}
	}

	logger.Debug("Subgraph returned %d eligible feeds", len(topics))
	return topics, nil
}

// CumulativeSpend sums the price of every subscription owner bought on
// topics after windowStart. Orders are walked with an id cursor until a
// short page comes back.
func (c *Client) CumulativeSpend(ctx context.Context, topics []models.Topic, windowStart int64, owner string) (float64, error) {
	if len(topics) == 0 {
		return 0, nil
	}
	ids, err := json.Marshal(topics)
	if err != nil {
		return 0, fmt.Errorf("failed to encode topic ids: %w", err)
	}
	owner = strings.ToLower(owner)

	total := decimal.Zero
	count := 0
	for cursor := ""; ; {
		var data ordersData
		q := fmt.Sprintf(consumeQuery, PageSize, cursor, ids, owner, windowStart)
		if err := c.query(ctx, q, &data); err != nil {
			return 0, fmt.Errorf("failed to query consume so far after order %q: %w", cursor, err)
		}

		for _, o := range data.Orders {
			v, err := decimal.NewFromString(o.LastPriceValue)
			if err != nil {
				return 0, fmt.Errorf("invalid lastPriceValue %q on order %s: %w", o.LastPriceValue, o.ID, err)
			}
			total = total.Add(v)
		}
		count += len(data.Orders)

		if len(data.Orders) < PageSize {
			break
		}
		next := data.Orders[len(data.Orders)-1].ID
		if next == "" || next == cursor {
			return 0, fmt.Errorf("order cursor did not advance past %q", cursor)
		}
		cursor = next
	}

	logger.Debug("Owner has %d orders since %d across %d feeds", count, windowStart, len(topics))
	return total.InexactFloat64(), nil
}

// query posts a GraphQL query and decodes its data field into out.
func (c *Client) query(ctx context.Context, q string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"query": q}).
		Post(c.url)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("subgraph returned status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	var envelope graphQLResponse[json.RawMessage]
	if err := json.Unmarshal(resp.Body(), &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("subgraph error: %s", envelope.Errors[0].Message)
	}
	if envelope.Data == nil {
		return fmt.Errorf("subgraph response has no data")
	}
	if err := json.Unmarshal(*envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode data: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
