// Package client implements a client for querying the remote block-list service.
package client

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// Client defines attributes of a struct available to its methods.
type Client struct {
	client       *resty.Client
	serverConfig *config.ServerConfig
	log          *zerolog.Logger
}

// InitClient initializes a resty client.
func InitClient(serverConfig *config.ServerConfig, log *zerolog.Logger) *Client {
	blockListClient := resty.New().SetRetryCount(2)
	log.Info().Msg("block-list service client initialized")
	return &Client{client: blockListClient, serverConfig: serverConfig, log: log}
}

// IsBlocked asks the block-list service whether an email is blocked.
func (c *Client) IsBlocked(ctx context.Context, email string) (bool, error) {
	if email == "" {
		return false, nil
	}
	var result modeldto.Blocked
	response, err := c.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"email": strings.ToLower(email)}).
		SetResult(&result).
		Get(c.serverConfig.BlockListAddress + "/api/blocked/{email}")
	if err != nil {
		c.log.Err(err).Msg("block-list lookup failed")
		return false, err
	}
	if response.StatusCode() != http.StatusOK {
		err = fmt.Errorf("block-list service responded with status %d", response.StatusCode())
		c.log.Err(err).Msg("block-list lookup failed")
		return false, err
	}
	return result.Blocked, nil
}
