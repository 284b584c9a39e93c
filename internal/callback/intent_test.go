package callback

import (
	"errors"
	"testing"
)

func TestParseRoundTrip(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data string
		want Intent
	}{
		{name: "videos", data: ViewVideosData("go-basics", "t2"), want: Intent{Kind: KindViewVideos, URLKey: "go-basics", TopicID: "t2"}},
		{name: "videos without topic", data: ViewVideosData("go-basics", ""), want: Intent{Kind: KindViewVideos, URLKey: "go-basics"}},
		{name: "subscribe", data: SubscribeData("go-basics"), want: Intent{Kind: KindSubscribe, URLKey: "go-basics"}},
		{name: "unsubscribe", data: UnsubscribeData("go-basics"), want: Intent{Kind: KindUnsubscribe, URLKey: "go-basics"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.data)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.data, err)
			}
			if got != tt.want {
				t.Fatalf("Parse(%q) = %+v, want %+v", tt.data, got, tt.want)
			}
		})
	}
}

func TestParseRejectsUnknown(t *testing.T) {
	t.Parallel()
	bad := []string{
		"",
		"course",
		"course:videos",
		"course:videos:",
		"course:sub:",
		"course:explode:c1",
		"other:videos:c1|t1",
		"garbage",
	}
	for _, data := range bad {
		if _, err := Parse(data); !errors.Is(err, ErrUnknownIntent) {
			t.Fatalf("Parse(%q) err = %v, want ErrUnknownIntent", data, err)
		}
	}
}
