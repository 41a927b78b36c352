// Package directory lists the borrower addresses the scanner looks at.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Directory interface {
	Users(ctx context.Context) ([]common.Address, error)
}

// Static is a fixed user list, used on local and test networks.
type Static []common.Address

func (s Static) Users(context.Context) ([]common.Address, error) {
	out := make([]common.Address, len(s))
	copy(out, s)
	return out, nil
}

// Poster is the REST transport, satisfied by httpx.Client.
type Poster interface {
	PostJSON(ctx context.Context, url string, body, out any) error
}

// Subgraph pages through the protocol subgraph's users by ascending id.
type Subgraph struct {
	url      string
	pageSize int
	http     Poster
}

func NewSubgraph(url string, pageSize int, http Poster) *Subgraph {
	if pageSize <= 0 {
		pageSize = 1000
	}
	return &Subgraph{url: url, pageSize: pageSize, http: http}
}

const usersQuery = `query Users($first: Int!, $cursor: String!) {
  users(first: $first, where: { id_gt: $cursor }, orderBy: id, orderDirection: asc) { id }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type usersResponse struct {
	Data struct {
		Users []struct {
			ID string `json:"id"`
		} `json:"users"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *Subgraph) Users(ctx context.Context) ([]common.Address, error) {
	var (
		out    []common.Address
		seen   = make(map[common.Address]struct{})
		cursor = ""
	)

	for {
		var resp usersResponse
		err := s.http.PostJSON(ctx, s.url, graphQLRequest{
			Query:     usersQuery,
			Variables: map[string]any{"first": s.pageSize, "cursor": cursor},
		}, &resp)
		if err != nil {
			return nil, fmt.Errorf("subgraph users after %q: %w", cursor, err)
		}
		if len(resp.Errors) > 0 {
			msgs := make([]string, len(resp.Errors))
			for i, e := range resp.Errors {
				msgs[i] = e.Message
			}
			return nil, fmt.Errorf("subgraph users: %w", errors.New(strings.Join(msgs, "; ")))
		}

		page := resp.Data.Users
		for _, u := range page {
			if !common.IsHexAddress(u.ID) {
				continue
			}
			addr := common.HexToAddress(u.ID)
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
			out = append(out, addr)
		}

		if len(page) < s.pageSize {
			return out, nil
		}
		cursor = page[len(page)-1].ID
	}
}
