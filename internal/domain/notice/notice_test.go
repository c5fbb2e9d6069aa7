package notice_test

import (
	"testing"

	"github.com/okian/kicker/internal/domain/model"
	"github.com/okian/kicker/internal/domain/notice"
	"github.com/okian/kicker/internal/domain/rating"
	. "github.com/smartystreets/goconvey/convey"
)

func TestNotificationText(t *testing.T) {
	Convey("Given a recorded match", t, func() {
		m := model.Match{ID: 3, Outcome: rating.TeamAWins}
		m.TeamA = [2]model.Participant{{PlayerID: 1, Name: "Anna"}, {PlayerID: 2, Name: "Bas"}}
		m.TeamB = [2]model.Participant{{PlayerID: 3, Name: "Cor"}, {PlayerID: 4, Name: "Dirk"}}
		n := notice.FromMatch(m)

		Convey("When team A won", func() {
			Convey("Then the winners come first in both languages", func() {
				So(n.MatchID, ShouldEqual, 3)
				So(n.Text(notice.English), ShouldEqual, "Anna and Bas won against Cor and Dirk")
				So(n.Text(notice.Dutch), ShouldEqual, "Anna en Bas hebben gewonnen tegen Cor en Dirk")
			})
		})

		Convey("When team B won", func() {
			n.Outcome = rating.TeamBWins

			Convey("Then team B is named first", func() {
				So(n.Text(notice.English), ShouldEqual, "Cor and Dirk won against Anna and Bas")
				So(n.Text(notice.Dutch), ShouldEqual, "Cor en Dirk hebben gewonnen tegen Anna en Bas")
			})
		})

		Convey("When the match was drawn", func() {
			n.Outcome = rating.Draw

			Convey("Then submission order is kept", func() {
				So(n.Text(notice.English), ShouldEqual, "Anna and Bas drew with Cor and Dirk")
				So(n.Text(notice.Dutch), ShouldEqual, "Anna en Bas hebben gelijk gespeeld tegen Cor en Dirk")
			})
		})

		Convey("When the language is unknown", func() {
			Convey("Then English is used", func() {
				So(n.Text(notice.Language("fr")), ShouldEqual, "Anna and Bas won against Cor and Dirk")
			})
		})
	})
}

func TestParseLanguage(t *testing.T) {
	Convey("Given configured languages", t, func() {
		l, err := notice.ParseLanguage("")
		So(err, ShouldBeNil)
		So(l, ShouldEqual, notice.English)

		l, err = notice.ParseLanguage(" NL ")
		So(err, ShouldBeNil)
		So(l, ShouldEqual, notice.Dutch)

		_, err = notice.ParseLanguage("de")
		So(err, ShouldNotBeNil)
	})
}
