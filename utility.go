package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
)

// ============================================================================
// V2 Components
// ============================================================================

const (
	ComponentTypeSection      discord.ComponentType = 9
	ComponentTypeTextDisplay  discord.ComponentType = 10
	ComponentTypeThumbnail    discord.ComponentType = 11
	ComponentTypeMediaGallery discord.ComponentType = 12
	ComponentTypeSeparator    discord.ComponentType = 14
	ComponentTypeContainer    discord.ComponentType = 17

	MessageFlagsIsComponentsV2 discord.MessageFlags = 1 << 15
)

// UnfurledMediaItem represents an unfurled media item.
type UnfurledMediaItem struct {
	URL string `json:"url"`
}

// MediaGalleryItem represents an item in a media gallery.
type MediaGalleryItem struct {
	Media       UnfurledMediaItem `json:"media"`
	Description *string           `json:"description,omitempty"`
	Spoiler     bool              `json:"spoiler,omitempty"`
}

// MediaGallery is a top-level component that allows you to group images, videos or gifs into a gallery grid.
type MediaGallery struct {
	Items []MediaGalleryItem `json:"items"`
}

func (m MediaGallery) Type() discord.ComponentType {
	return ComponentTypeMediaGallery
}

func (m MediaGallery) MarshalJSON() ([]byte, error) {
	type mediaGallery MediaGallery
	return json.Marshal(struct {
		mediaGallery
		Type discord.ComponentType `json:"type"`
	}{
		mediaGallery: mediaGallery(m),
		Type:         m.Type(),
	})
}

// Thumbnail is a component that displays a single image/thumbnail.
type Thumbnail struct {
	Media       UnfurledMediaItem `json:"media"`
	Description *string           `json:"description,omitempty"`
	Spoiler     bool              `json:"spoiler,omitempty"`
}

func (t Thumbnail) Type() discord.ComponentType {
	return ComponentTypeThumbnail
}

func (t Thumbnail) MarshalJSON() ([]byte, error) {
	type thumbnail Thumbnail
	return json.Marshal(struct {
		thumbnail
		Type discord.ComponentType `json:"type"`
	}{
		thumbnail: thumbnail(t),
		Type:      t.Type(),
	})
}

// Separator is a component that renders a visual separator or spacing.
type Separator struct {
	Divider bool `json:"divider,omitempty"`
	Spacing int  `json:"spacing,omitempty"`
}

func (s Separator) Type() discord.ComponentType {
	return ComponentTypeSeparator
}

func (s Separator) MarshalJSON() ([]byte, error) {
	type separator Separator
	return json.Marshal(struct {
		separator
		Type discord.ComponentType `json:"type"`
	}{
		separator: separator(s),
		Type:      s.Type(),
	})
}

// TextDisplay is a top-level component that allows you to add markdown-formatted text to the message.
type TextDisplay struct {
	Content string `json:"content"`
}

func (t TextDisplay) Type() discord.ComponentType {
	return ComponentTypeTextDisplay
}

func (t TextDisplay) MarshalJSON() ([]byte, error) {
	type textDisplay TextDisplay
	return json.Marshal(struct {
		textDisplay
		Type discord.ComponentType `json:"type"`
	}{
		textDisplay: textDisplay(t),
		Type:        t.Type(),
	})
}

// Section groups text components with an optional accessory (e.g. a thumbnail).
type Section struct {
	Components []any `json:"components"`
	Accessory  any   `json:"accessory,omitempty"`
}

func (s Section) Type() discord.ComponentType {
	return ComponentTypeSection
}

func (s Section) MarshalJSON() ([]byte, error) {
	type section Section
	return json.Marshal(struct {
		section
		Type discord.ComponentType `json:"type"`
	}{
		section: section(s),
		Type:    s.Type(),
	})
}

// Container is a top-level component that contains other components.
type Container struct {
	Components []any `json:"components"`
}

func (c Container) Type() discord.ComponentType {
	return ComponentTypeContainer
}

func (c Container) MarshalJSON() ([]byte, error) {
	type container Container
	return json.Marshal(struct {
		container
		Type discord.ComponentType `json:"type"`
	}{
		container: container(c),
		Type:      c.Type(),
	})
}

// Helper functions for building components

func NewV2Container(components ...any) Container {
	return Container{
		Components: components,
	}
}

func NewTextDisplay(content string) TextDisplay {
	return TextDisplay{
		Content: content,
	}
}

func NewMediaGallery(urls ...string) MediaGallery {
	items := make([]MediaGalleryItem, len(urls))
	for i, url := range urls {
		items[i] = MediaGalleryItem{
			Media: UnfurledMediaItem{
				URL: url,
			},
		}
	}
	return MediaGallery{
		Items: items,
	}
}

func NewThumbnail(url string) Thumbnail {
	return Thumbnail{
		Media: UnfurledMediaItem{
			URL: url,
		},
	}
}

func NewSeparator(divider bool) Separator {
	return Separator{
		Divider: divider,
	}
}

func NewSection(content string, accessory any) Section {
	s := Section{
		Components: []any{NewTextDisplay(content)},
	}
	if accessory != nil {
		s.Accessory = accessory
	}
	return s
}

// ============================================================================
// Interaction Responders
// ============================================================================

// doRequestNoEscape sends a raw REST request without HTML-escaping the JSON body.
func doRequestNoEscape(client bot.Client, route *rest.CompiledEndpoint, body any, dst any) error {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return err
	}
	return client.Rest.Do(route, json.RawMessage(buf.Bytes()), dst)
}

func RespondInteractionV2(client bot.Client, interaction discord.Interaction, content string, ephemeral bool) error {
	return RespondInteractionContainerV2(client, interaction, NewV2Container(NewTextDisplay(content)), ephemeral)
}

func RespondInteractionContainerV2(client bot.Client, interaction discord.Interaction, container Container, ephemeral bool) error {
	route := rest.NewEndpoint(http.MethodPost, "/interactions/{interaction.id}/{interaction.token}/callback")

	var flags discord.MessageFlags
	if ephemeral {
		flags = discord.MessageFlagEphemeral | MessageFlagsIsComponentsV2
	} else {
		flags = MessageFlagsIsComponentsV2
	}

	data := struct {
		Type discord.InteractionResponseType `json:"type"`
		Data struct {
			Components []any                `json:"components"`
			Flags      discord.MessageFlags `json:"flags"`
		} `json:"data"`
	}{
		Type: discord.InteractionResponseTypeCreateMessage,
		Data: struct {
			Components []any                `json:"components"`
			Flags      discord.MessageFlags `json:"flags"`
		}{
			Components: []any{container},
			Flags:      flags,
		},
	}

	compiledRoute := route.Compile(nil, interaction.ID().String(), interaction.Token())

	return doRequestNoEscape(client, compiledRoute, data, nil)
}

func EditInteractionV2(client bot.Client, interaction discord.Interaction, content string) error {
	return EditInteractionContainerV2(client, interaction, NewV2Container(NewTextDisplay(content)))
}

func EditInteractionContainerV2(client bot.Client, interaction discord.Interaction, container Container) error {
	route := rest.NewEndpoint(http.MethodPatch, "/webhooks/{application.id}/{interaction.token}/messages/@original")
	data := struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}{
		Components: []any{container},
		Flags:      MessageFlagsIsComponentsV2,
	}

	compiledRoute := route.Compile(nil, client.ApplicationID.String(), interaction.Token())

	return doRequestNoEscape(client, compiledRoute, data, nil)
}

// UpdateInteractionContainerV2 responds to a component interaction by replacing its message.
func UpdateInteractionContainerV2(client bot.Client, interaction discord.Interaction, container Container) error {
	route := rest.NewEndpoint(http.MethodPost, "/interactions/{interaction.id}/{interaction.token}/callback")

	data := struct {
		Type discord.InteractionResponseType `json:"type"`
		Data struct {
			Components []any                `json:"components"`
			Flags      discord.MessageFlags `json:"flags"`
		} `json:"data"`
	}{
		Type: discord.InteractionResponseTypeUpdateMessage,
		Data: struct {
			Components []any                `json:"components"`
			Flags      discord.MessageFlags `json:"flags"`
		}{
			Components: []any{container},
			Flags:      MessageFlagsIsComponentsV2,
		},
	}

	compiledRoute := route.Compile(nil, interaction.ID().String(), interaction.Token())

	return doRequestNoEscape(client, compiledRoute, data, nil)
}

func EditInteractionV2ByToken(client bot.Client, appID snowflake.ID, token string, content string) error {
	route := rest.NewEndpoint(http.MethodPatch, "/webhooks/{application.id}/{interaction.token}/messages/@original")
	data := struct {
		Components []any                `json:"components"`
		Flags      discord.MessageFlags `json:"flags"`
	}{
		Components: []any{NewV2Container(NewTextDisplay(content))},
		Flags:      MessageFlagsIsComponentsV2,
	}

	compiledRoute := route.Compile(nil, appID.String(), token)

	return doRequestNoEscape(client, compiledRoute, data, nil)
}

// SetVoiceStatus sets the voice channel status line.
func SetVoiceStatus(client bot.Client, channelID snowflake.ID, status string) error {
	route := rest.NewEndpoint(http.MethodPut, "/channels/{channel.id}/voice-status")
	data := struct {
		Status string `json:"status"`
	}{Status: status}
	return client.Rest.Do(route.Compile(nil, channelID.String()), data, nil)
}

// ============================================================================
// Helper Functions
// ============================================================================

func intPtr(i int) *int {
	return &i
}

func strPtr(s string) *string {
	return &s
}

func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func Atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

func TruncateCenter(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	k := (maxLen - 3) / 2
	return string(r[:k]) + "..." + string(r[len(r)-k:])
}

func ContainsLower(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

func ColorizeHex(colorInt int) string {
	hex := fmt.Sprintf("#%06X", colorInt)
	r := (colorInt >> 16) & 0xFF
	g := (colorInt >> 8) & 0xFF
	b := colorInt & 0xFF
	return fmt.Sprintf("\x1b[38;2;%d;%d;%dm⬤ %s\x1b[0m", r, g, b, hex)
}
