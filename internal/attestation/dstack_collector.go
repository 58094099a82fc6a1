package attestation

import (
	"context"
	"fmt"

	dstacksdk "github.com/Dstack-TEE/dstack/sdk/go/dstack"
)

// DstackInfoCollector reads instance information from the dstack guest agent.
type DstackInfoCollector struct {
	client *dstacksdk.DstackClient
}

func NewDstackInfoCollector(endpoint string) *DstackInfoCollector {
	opts := []dstacksdk.DstackClientOption{}
	if endpoint != "" {
		opts = append(opts, dstacksdk.WithEndpoint(endpoint))
	}
	return &DstackInfoCollector{client: dstacksdk.NewDstackClient(opts...)}
}

func (c *DstackInfoCollector) Collect(ctx context.Context) (InstanceInfo, error) {
	info, err := c.client.Info(ctx)
	if err != nil {
		return InstanceInfo{}, fmt.Errorf("dstack info: %w", err)
	}
	return InstanceInfo{
		AppID:      info.AppID,
		InstanceID: info.InstanceID,
		DeviceID:   info.DeviceID,
		TCBInfo:    info.TcbInfo,
		AppCert:    info.AppCert,
	}, nil
}
