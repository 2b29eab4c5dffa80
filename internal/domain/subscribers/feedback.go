// Обратная связь по карточкам: нажатия «интересно», «пропустить», «скрыть»
// из уведомлений. Радар только складывает сигналы; их потребляет фронтенд.

package subscribers

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"

	"tender-radar/internal/infra/db"
)

const feedbackBucketName = "feedback"

var feedbackBucket = []byte(feedbackBucketName)

// FeedbackAction — допустимые действия пользователя на карточке.
type FeedbackAction string

const (
	FeedbackInterested FeedbackAction = "interested"
	FeedbackSkipped    FeedbackAction = "skipped"
	FeedbackHidden     FeedbackAction = "hidden"
)

// Feedback — один сигнал обратной связи. Повторное действие по той же
// тройке перезаписывает предыдущее: интересен последний ответ.
type Feedback struct {
	SubscriberID int64          `json:"subscriber_id"`
	FilterID     string         `json:"filter_id"`
	TenderID     string         `json:"tender_id"`
	Action       FeedbackAction `json:"action"`
	At           time.Time      `json:"at"`
}

func feedbackKey(subscriberID int64, filterID, tenderID string) []byte {
	return []byte(strconv.FormatInt(subscriberID, 10) + "|" + filterID + "|" + tenderID)
}

// RecordFeedback сохраняет действие пользователя по карточке тендера.
func (s *Store) RecordFeedback(fb Feedback) error {
	switch fb.Action {
	case FeedbackInterested, FeedbackSkipped, FeedbackHidden:
	default:
		return &InputError{Reason: "feedback: unknown action " + string(fb.Action)}
	}
	if fb.SubscriberID == 0 || strings.TrimSpace(fb.TenderID) == "" {
		return &InputError{Reason: "feedback: subscriber and tender are required"}
	}
	if fb.At.IsZero() {
		fb.At = s.Now()
	}

	if err := db.EnsureBuckets(s.db, feedbackBucket); err != nil {
		return errors.Wrap(err, "feedback bucket")
	}
	value, err := json.Marshal(&fb)
	if err != nil {
		return errors.Wrap(err, "marshal feedback")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(feedbackBucket).Put(feedbackKey(fb.SubscriberID, fb.FilterID, fb.TenderID), value)
	})
}

// FeedbackBySubscriber возвращает все сигналы подписчика.
func (s *Store) FeedbackBySubscriber(subscriberID int64) ([]Feedback, error) {
	prefix := []byte(strconv.FormatInt(subscriberID, 10) + "|")
	out := make([]Feedback, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(feedbackBucket)
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.Seek(prefix); k != nil && strings.HasPrefix(string(k), string(prefix)); k, v = c.Next() {
			var fb Feedback
			if err := json.Unmarshal(v, &fb); err != nil {
				return errors.Wrap(err, "unmarshal feedback")
			}
			out = append(out, fb)
		}
		return nil
	})
	return out, err
}
