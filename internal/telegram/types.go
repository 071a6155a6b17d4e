package telegram

// Update описывает ответ getUpdates.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message представляет входящее сообщение.
type Message struct {
	MessageID int64  `json:"message_id"`
	Date      int64  `json:"date"`
	Text      string `json:"text"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
}

// User информация об авторе.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Username  string `json:"username"`
}

// Chat описывает чат (личный/групповой).
type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Title     string `json:"title"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// apiResponse: общая обёртка ответов Bot API.
type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	Result      T      `json:"result"`
}

type apiResult interface {
	ok() bool
	description() string
}

func (r *apiResponse[T]) ok() bool { return r.OK }

func (r *apiResponse[T]) description() string {
	if r.Description == "" {
		return "unknown error"
	}
	return r.Description
}
