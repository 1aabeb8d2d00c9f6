// Copyright (C) 2014-2024 Nippon Telegraph and Telephone Corporation.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"

	"github.com/pkg/errors"

	"github.com/osrg/bgpcep/pkg/config"
	"github.com/osrg/bgpcep/pkg/log"
)

// InitialConfig starts BGP with c and then adds its neighbors and BMP
// stations. A neighbor or station that fails is logged and skipped.
func InitialConfig(ctx context.Context, s *BgpServer, c *config.BgpcepConfig) (*config.BgpcepConfig, error) {
	if err := s.StartBgp(ctx, c.Global); err != nil {
		return nil, errors.Wrap(err, "failed to set global config")
	}
	for _, n := range c.Neighbors {
		if err := s.AddPeer(ctx, n); err != nil {
			s.logger.Warn("failed to add neighbor",
				log.Fields{
					"Topic": "config",
					"Key":   n.NeighborAddress,
					"Error": err,
				})
		}
	}
	for _, b := range c.BmpStations {
		if err := s.AddBmpStation(ctx, b); err != nil {
			s.logger.Warn("failed to add bmp station",
				log.Fields{
					"Topic": "config",
					"Key":   b.Address,
					"Error": err,
				})
		}
	}
	return c, nil
}

// UpdateConfig applies the neighbor changes between cur and newC. The
// global settings and the BMP stations of cur are kept.
func UpdateConfig(ctx context.Context, s *BgpServer, cur, newC *config.BgpcepConfig) (*config.BgpcepConfig, error) {
	c, added, deleted, updated := config.UpdateConfig(cur, newC)
	if cur != nil && (cur.Global.As != newC.Global.As || cur.Global.RouterId != newC.Global.RouterId) {
		s.logger.Warn("global config changes need a restart",
			log.Fields{
				"Topic": "config",
			})
	}
	var errs []error
	for _, n := range deleted {
		s.logger.Info("Delete Peer", log.Fields{"Topic": "config", "Key": n.NeighborAddress})
		if err := s.DeletePeer(ctx, n.NeighborAddress); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range added {
		s.logger.Info("Add Peer", log.Fields{"Topic": "config", "Key": n.NeighborAddress})
		if err := s.AddPeer(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range updated {
		s.logger.Info("Update Peer", log.Fields{"Topic": "config", "Key": n.NeighborAddress})
		if err := s.UpdatePeer(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return c, errors.Wrapf(errs[0], "%d neighbor changes failed", len(errs))
	}
	return c, nil
}
