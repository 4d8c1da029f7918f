package region

import "testing"

func TestSelectMirror(t *testing.T) {
	t.Parallel()

	mirrors := map[string]string{
		"cn": "https://cdn.example.cn/appgate.json",
		"RU": "https://mirror.example.ru/appgate.json",
		"DE": "  ",
	}
	const fallback = "https://config.example.com/appgate.json"

	cases := []struct {
		name string
		code string
		want string
	}{
		{name: "lowercase key", code: "CN", want: mirrors["cn"]},
		{name: "uppercase key", code: "ru", want: mirrors["RU"]},
		{name: "padded code", code: " cn ", want: mirrors["cn"]},
		{name: "blank mirror", code: "DE", want: fallback},
		{name: "unknown", code: "US", want: fallback},
		{name: "empty", code: "", want: fallback},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := SelectMirror(tc.code, mirrors, fallback); got != tc.want {
				t.Fatalf("SelectMirror(%q) = %q, want %q", tc.code, got, tc.want)
			}
		})
	}

	if got := SelectMirror("CN", nil, fallback); got != fallback {
		t.Fatalf("nil mirrors should fall back, got %q", got)
	}
}
