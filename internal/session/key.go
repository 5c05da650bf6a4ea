package session

import "strings"

// DM 隔离范围 / DM isolation scopes
const (
	ScopeMain           = "main"             // 所有私聊共用一个会话 / all DMs share one session
	ScopePerPeer        = "per-peer"         // 按发送者隔离 / isolate by sender
	ScopePerChannelPeer = "per-channel-peer" // 按渠道+发送者隔离 / isolate by channel+sender
)

// 会话键类型 / session key kinds
const (
	KindMain  = "main"
	KindDM    = "dm"
	KindGroup = "group"
)

// Key 结构化会话键。规范字符串形式：
//
//	agent:<agentID>:main
//	agent:<agentID>:dm:<peer>
//	agent:<agentID>:<channel>:dm:<peer>
//	agent:<agentID>:<channel>:group:<groupID>
//
// Key is the structured session key. Parse is the inverse of the canonical
// serializer; keys are the sole sharding dimension for storage and locking.
type Key struct {
	Raw        string
	AgentID    string
	Kind       string // main, dm, group
	Identifier string // peer or group id
	Channel    string
}

// ForDM 构造私聊键。peer 或 channel 为空时退化为更宽的范围。
// ForDM builds a DM key; empty peer collapses to the shared main key.
func ForDM(agentID, peerID, channel string) Key {
	agentID = defaultAgent(agentID)
	switch {
	case peerID != "" && channel != "":
		return Key{
			Raw:        "agent:" + agentID + ":" + channel + ":dm:" + peerID,
			AgentID:    agentID,
			Kind:       KindDM,
			Identifier: peerID,
			Channel:    channel,
		}
	case peerID != "":
		return Key{
			Raw:        "agent:" + agentID + ":dm:" + peerID,
			AgentID:    agentID,
			Kind:       KindDM,
			Identifier: peerID,
		}
	default:
		return Key{Raw: "agent:" + agentID + ":main", AgentID: agentID, Kind: KindMain}
	}
}

// ForGroup 构造群聊键。群聊隔离是强制的，不受 scope 配置影响。
// ForGroup builds a group key. Group isolation is mandatory regardless of scope.
func ForGroup(agentID, channel, groupID string) Key {
	agentID = defaultAgent(agentID)
	if channel == "" {
		channel = "unknown"
	}
	return Key{
		Raw:        "agent:" + agentID + ":" + channel + ":group:" + groupID,
		AgentID:    agentID,
		Kind:       KindGroup,
		Identifier: groupID,
		Channel:    channel,
	}
}

// Derive 根据路由事实与 DM 范围推导会话键；相同输入总是产生相同的键。
// Derive maps routing facts to a key. Deterministic: identical facts yield
// identical canonical strings.
func Derive(agentID, channel, sender, groupID, scope string) Key {
	if groupID != "" {
		return ForGroup(agentID, channel, groupID)
	}
	switch scope {
	case ScopePerPeer:
		return ForDM(agentID, sender, "")
	case ScopePerChannelPeer:
		return ForDM(agentID, sender, channel)
	default:
		return ForDM(agentID, "", "")
	}
}

// Parse 解析规范键字符串；无法识别的简单 token 视为不透明的 main 型键，从不报错。
// Parse accepts any canonical string and treats legacy simple tokens as
// opaque main-type keys. It never fails.
func Parse(raw string) Key {
	parts := strings.Split(raw, ":")
	if parts[0] == "agent" && len(parts) >= 3 {
		agentID := parts[1]
		switch {
		case len(parts) == 3:
			return Key{Raw: raw, AgentID: agentID, Kind: parts[2]}
		case len(parts) == 4:
			return Key{Raw: raw, AgentID: agentID, Kind: parts[2], Identifier: parts[3]}
		default:
			// agent:<id>:<channel>:<kind>:<identifier...>
			return Key{
				Raw:        raw,
				AgentID:    agentID,
				Channel:    parts[2],
				Kind:       parts[3],
				Identifier: strings.Join(parts[4:], ":"),
			}
		}
	}
	return Key{Raw: raw, AgentID: "main", Kind: raw}
}

func (k Key) String() string { return k.Raw }

// IsMain reports whether this is the shared main-session key.
func (k Key) IsMain() bool { return k.Kind == KindMain }

func defaultAgent(agentID string) string {
	if strings.TrimSpace(agentID) == "" {
		return "main"
	}
	return agentID
}
