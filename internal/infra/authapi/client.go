package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"duel-quiz-service/internal/domain"
)

// Client talks to the auth/profile service, which owns the question bank and
// player ratings. Both calls the core makes are narrow: a pool fetch and a
// fire-and-forget results report.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

type questionsResponse struct {
	Success   bool                 `json:"success"`
	Questions []domain.QuestionDoc `json:"questions"`
}

// LoadPool implements app.BankLoader against GET /auth/questions/random.
func (c *Client) LoadPool(ctx context.Context, grade, subjectID, count int) ([]domain.Question, error) {
	params := url.Values{}
	params.Set("grade", strconv.Itoa(grade))
	params.Set("subjectId", strconv.Itoa(subjectID))
	params.Set("count", strconv.Itoa(count))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/questions/random?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build questions request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch questions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch questions: unexpected status %d", resp.StatusCode)
	}
	var body questionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}
	if !body.Success {
		return nil, domain.ErrNoQuestions
	}

	questions := make([]domain.Question, 0, len(body.Questions))
	for _, doc := range body.Questions {
		questions = append(questions, doc.Question())
	}
	return questions, nil
}

// ReportResults implements app.ResultsReporter against POST /auth/results.
func (c *Client) ReportResults(ctx context.Context, report domain.MatchReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/results", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build results request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post results: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("post results: unexpected status %d", resp.StatusCode)
	}
	return nil
}
