package wecom

// MsgTypeText はテキストメッセージを表すmsgtype。
const MsgTypeText = "text"

// ToAll は全メンバー宛てを表す宛先値。
const ToAll = "@all"

// DefaultDuplicateCheckInterval は重複メッセージ抑止の既定間隔（秒）。
const DefaultDuplicateCheckInterval = 600

// TextMessage はアプリケーションメッセージ送信APIのテキストメッセージ。
type TextMessage struct {
	// ToUser は宛先メンバーID（"|"区切り）またはToAll。
	ToUser string `json:"touser"`
	// AgentID はアプリケーションのAgentID。
	AgentID string `json:"agentid"`
	// MsgType はメッセージ種別。常にMsgTypeText。
	MsgType string `json:"msgtype"`
	// Text はテキスト本文。
	Text TextContent `json:"text"`
	// DuplicateCheckInterval は重複メッセージ抑止の間隔（秒）。
	DuplicateCheckInterval int `json:"duplicate_check_interval"`
}

// TextContent はテキストメッセージの本文。
type TextContent struct {
	// Content はメッセージ本文。
	Content string `json:"content"`
}

// tokenResponse はgettoken APIのレスポンス。
type tokenResponse struct {
	ErrCode     int    `json:"errcode"`
	ErrMsg      string `json:"errmsg"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}
