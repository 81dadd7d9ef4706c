// Copyright 2025 Storyloom Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"log/slog"

	"github.com/storyloom/storyloom/internal/cloud"
	"github.com/storyloom/storyloom/internal/core/commands"
	"github.com/storyloom/storyloom/internal/core/registry"
)

// renderEventsListener is the config key for the subscription carrying
// render-farm scene progress events.
const renderEventsListener = "RenderEvents"

// SetupListeners attaches the scene event reader to the render-events
// subscription and starts it. Deployments that render in-process have no
// subscription configured and skip this entirely.
func SetupListeners(ctx context.Context, cloudClients *cloud.ServiceClients, reg *registry.Registry) {
	listener, ok := cloudClients.PubSubListeners[renderEventsListener]
	if !ok {
		slog.Info("no render-events subscription configured")
		return
	}
	eventReader := commands.NewSceneEventReader("scene-event-reader", reg)
	listener.SetCommand(eventReader)
	listener.Listen(ctx)
}
